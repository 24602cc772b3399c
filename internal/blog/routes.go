package blog

import "github.com/gin-gonic/gin"

// Register 挂载用户与文章路由，guard 非空时保护两个创建接口
func Register(r gin.IRouter, h *Handler, guard gin.HandlerFunc) {
	create := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if guard == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{guard, handler}
	}

	r.POST("/users", create(h.CreateUser)...)
	r.GET("/users/:id", h.GetUser)
	r.PATCH("/users/:id", h.UpdateUser)
	r.PUT("/users/:id", h.UpdateUser)
	r.DELETE("/users/:id", h.DeleteUser)

	r.POST("/posts", create(h.CreatePost)...)
	r.GET("/posts/:id", h.GetPost)
	r.PATCH("/posts/:id", h.UpdatePost)
	r.PUT("/posts/:id", h.UpdatePost)
	r.DELETE("/posts/:id", h.DeletePost)
}

package idem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/xerrors"
)

const (
	// DefaultHeaderKey 默认的幂等键请求头
	DefaultHeaderKey = "Idempotency-Key"
	// ReplayedHeader 重放响应时附加的响应头
	ReplayedHeader = "Idempotent-Replayed"
)

// errHandlerFailed 下游 handler 返回 5xx，记录保持未完成以便重试时复用
var errHandlerFailed = xerrors.New("idem: handler responded with server error")

// GinMiddleware 创建 Gin 幂等中间件
//
// 参数由 JSON 请求体（或表单）与查询参数合并而成，请求体中的同名字段优先。
// 下游 handler 的响应在状态码 < 500 时被记录；5xx 不记录，重试时重新执行。
// 响应体为空（例如 204）的请求同样视为未完成，每次重试都会重新执行 handler，
// 需要重放的路由应返回非空响应体。
// 幂等保护的错误以 {"data": null, "error": "..."} 返回，状态码见 HTTPStatus。
//
// 使用示例:
//
//	r.POST("/users", guard.GinMiddleware(), createUser)
func (g *guard) GinMiddleware(opts ...MiddlewareOption) gin.HandlerFunc {
	opt := middlewareOptions{headerKey: DefaultHeaderKey}
	for _, o := range opts {
		o(&opt)
	}

	return func(c *gin.Context) {
		params, err := requestParams(c.Request)
		if err != nil {
			abortWithError(c, err)
			return
		}

		ran := false
		resp, err := g.Do(c.Request.Context(), Request{
			Key:    c.GetHeader(opt.headerKey),
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Params: params,
		}, func(ctx context.Context, a *Attempt) error {
			ran = true
			writer := &responseWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
			c.Writer = writer
			c.Request = c.Request.WithContext(ctx)

			c.Next()

			status := writer.Status()
			if status >= http.StatusInternalServerError {
				return errHandlerFailed
			}
			headers := Headers{}
			if ct := writer.Header().Get("Content-Type"); ct != "" {
				headers["Content-Type"] = ct
			}
			return a.SetResponse(ctx, writer.body.String(), status, headers)
		})

		if ran {
			// handler 已写出响应，这里只记录收尾失败
			if err != nil && !errors.Is(err, errHandlerFailed) {
				g.logger.ErrorContext(c.Request.Context(), "idempotent request finished with error after handler ran",
					clog.String("path", c.Request.URL.Path),
					clog.Error(err))
			}
			return
		}
		if err != nil {
			abortWithError(c, err)
			return
		}

		for name, value := range resp.Headers {
			c.Header(name, value)
		}
		c.Header(ReplayedHeader, "true")
		c.Status(resp.Status)
		_, _ = c.Writer.WriteString(resp.Body)
		c.Abort()
	}
}

func abortWithError(c *gin.Context, err error) {
	msg := "Internal server error"
	var coded *xerrors.CodedError
	if IsGuardError(err) && errors.As(err, &coded) {
		msg = coded.Message()
	}
	c.AbortWithStatusJSON(HTTPStatus(err), gin.H{"data": nil, "error": msg})
}

// requestParams 合并请求体与查询参数，读取后恢复请求体供下游使用
func requestParams(r *http.Request) (map[string]any, error) {
	params := map[string]any{}

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, xerrors.Wrap(ErrInvalidParams, err.Error())
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		if len(bytes.TrimSpace(body)) > 0 {
			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			switch mediaType {
			case "application/x-www-form-urlencoded":
				form, err := url.ParseQuery(string(body))
				if err != nil {
					return nil, xerrors.Wrap(ErrInvalidParams, err.Error())
				}
				mergeValues(params, form)
			default:
				dec := json.NewDecoder(bytes.NewReader(body))
				dec.UseNumber()
				var obj map[string]any
				if err := dec.Decode(&obj); err != nil {
					return nil, xerrors.Wrap(ErrInvalidParams, err.Error())
				}
				for k, v := range obj {
					params[k] = v
				}
			}
		}
	}

	mergeValues(params, r.URL.Query())
	return params, nil
}

// mergeValues 合并 url.Values，已有的键不覆盖；单值展开为字符串
func mergeValues(params map[string]any, values url.Values) {
	for k, vs := range values {
		if _, exists := params[k]; exists {
			continue
		}
		if len(vs) == 1 {
			params[k] = vs[0]
		} else {
			params[k] = vs
		}
	}
}

// responseWriter 响应写入器包装器，用于捕获响应体
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

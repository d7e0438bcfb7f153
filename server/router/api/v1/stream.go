package v1

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// PostQueryStream answers one question as server-sent events. Each fragment is a
// data event; the stream ends with a done or an error event. Failures that happen
// before the first fragment are returned as regular HTTP errors.
func (s *APIV1Service) PostQueryStream(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	frags, errs := s.Query.QueryStream(ctx, req.Prompt, req.options())

	first, more := <-frags
	if !more {
		if err := <-errs; err != nil {
			return writeError(c, err)
		}
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if more {
		if err := writeEvent(w, "", first); err != nil {
			return nil
		}
		w.Flush()
		for frag := range frags {
			if err := writeEvent(w, "", frag); err != nil {
				slog.Debug("stream: client went away", "user_id", req.UserID, "error", err)
				break
			}
			w.Flush()
		}
	}
	// Drain so the producer can finish billing.
	for range frags {
	}

	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			return nil
		}
		_, body := errorStatus(err)
		payload, _ := json.Marshal(body)
		_ = writeEvent(w, "error", string(payload))
		w.Flush()
		return nil
	}
	_ = writeEvent(w, "done", "{}")
	w.Flush()
	return nil
}

// writeEvent writes one SSE event. Multi-line data is split into several data lines.
func writeEvent(w io.Writer, event, data string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteString("\n")
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

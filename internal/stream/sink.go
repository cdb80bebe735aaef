package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Sink interface {
	Send(ev Event) error
}

// GinSink writes server-sent events to a gin response.
type GinSink struct {
	c *gin.Context
}

func NewGinSink(c *gin.Context) *GinSink {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &GinSink{c: c}
}

func (s *GinSink) Send(ev Event) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

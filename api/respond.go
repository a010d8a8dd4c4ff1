package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/analytics/common/apiutil"
	"github.com/gin-gonic/gin"
)

// respond writes v's JSON fields next to "status":"success"
func respond(c *gin.Context, v interface{}) {
	body, err := toBody(v)
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	apiutil.Success(c, body)
}

func toBody(v interface{}) (gin.H, error) {
	if h, ok := v.(gin.H); ok {
		return h, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	body := gin.H{}
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return body, nil
}

// bind decodes the JSON body into req, answering the client on failure
func bind(c *gin.Context, req interface{}) bool {
	if err := apiutil.BindJSON(c, req); err != nil {
		apiutil.WriteError(c, err)
		return false
	}
	return true
}

// respondWith runs fn and writes its result or error
func respondWith(c *gin.Context, fn func() (interface{}, error)) {
	out, err := fn()
	if err != nil {
		apiutil.WriteError(c, err)
		return
	}
	respond(c, out)
}

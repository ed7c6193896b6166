package xhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Not Found", StatusText(StatusNotFound))
	assert.Equal(t, "Request Timeout", StatusText(StatusRequestTimeout))
	assert.Equal(t, "Internal Server Error", StatusText(StatusInternalServerError))
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, fasthttp.StatusNotFound, StatusNotFound)
	assert.Equal(t, fasthttp.StatusRequestTimeout, StatusRequestTimeout)
	assert.Equal(t, fasthttp.StatusInternalServerError, StatusInternalServerError)
}

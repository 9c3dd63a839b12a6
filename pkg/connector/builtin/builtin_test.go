package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/shared/model"
	"agents-eval/pkg/connector/http"
)

func TestDefault(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{model.ConnectorTypeHTTP, model.ConnectorTypeLangGraph}, r.Types())

	s, err := r.For(&model.Connector{Type: model.ConnectorTypeLangGraph})
	require.NoError(t, err)
	assert.Equal(t, model.ConnectorTypeLangGraph, s.Type())

	err = r.Register(http.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"http" already registered`)
}

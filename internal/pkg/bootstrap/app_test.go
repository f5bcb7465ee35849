package bootstrap

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownHooksRunInReverseAndContinuePastErrors(t *testing.T) {
	var h shutdownHooks
	var order []string
	record := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	h.add("bus", record("bus", nil))
	h.add("consumer", record("consumer", errors.New("stuck")))
	h.add("orchestrator", record("orchestrator", nil))

	errs := h.run(context.Background())
	assert.Equal(t, []string{"orchestrator", "consumer", "bus"}, order)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "consumer")

	assert.Empty(t, h.run(context.Background()), "hooks run once")
}

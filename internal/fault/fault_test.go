package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_PreservesInnerKind(t *testing.T) {
	inner := New(Unavailable, "oracle.complete", "rate limited")
	wrapped := fmt.Errorf("agent: %w", inner)

	err := Wrap(Execution, "table.handle", wrapped)
	assert.Equal(t, Unavailable, KindOf(err))
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(Internal, "x", nil))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestIs_MatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(Decomposition, "fusion.decompose", "need two sub-questions"))
	assert.True(t, errors.Is(err, E(Decomposition)))
	assert.False(t, errors.Is(err, E(Unavailable)))
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: Execution, Op: "repair.run", Msg: "exhausted after 3 attempts", Err: errors.New("timeout")}
	assert.Equal(t, "repair.run: exhausted after 3 attempts: timeout", err.Error())
	assert.Equal(t, "repair.run: execution_failure", (&Error{Kind: Execution, Op: "repair.run"}).Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidRequest))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(Decomposition))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(Unavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal))
}

func TestHint_DistinguishesCategories(t *testing.T) {
	assert.NotEqual(t, Hint(Decomposition), Hint(Unavailable))
	assert.NotEqual(t, Hint(Unavailable), Hint(NoData))
}

func TestParseKind(t *testing.T) {
	for k := Internal; k <= NoData; k++ {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, Internal, ParseKind("nonsense"))
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/pkg/types"
)

func validRequest() types.ResearchRequest {
	return types.ResearchRequest{
		Query:    "solid state batteries",
		Depth:    types.DepthQuick,
		Style:    types.StyleBusiness,
		Language: "en",
	}
}

func TestPlanValidatesOutput(t *testing.T) {
	b := BackendFunc(func(_ context.Context, kind Kind, _ Payload) (Payload, error) {
		require.Equal(t, KindPlan, kind)
		return &PlanOutput{Items: []types.SearchPlanItem{
			{ID: "p1", QueryText: "market size", Priority: 1},
		}}, nil
	})

	out, err := Plan(context.Background(), b, PlanInput{Request: validRequest(), MaxItems: 3})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "market size", out.Items[0].QueryText)
}

func TestPlanRejectsInvalidInput(t *testing.T) {
	called := false
	b := BackendFunc(func(context.Context, Kind, Payload) (Payload, error) {
		called = true
		return &PlanOutput{}, nil
	})

	req := validRequest()
	req.Query = "  "
	_, err := Plan(context.Background(), b, PlanInput{Request: req, MaxItems: 3})
	require.Error(t, err)
	assert.False(t, called, "backend must not be invoked with invalid input")
}

func TestPlanRejectsMalformedItems(t *testing.T) {
	b := BackendFunc(func(context.Context, Kind, Payload) (Payload, error) {
		return &PlanOutput{Items: []types.SearchPlanItem{{ID: "p1", QueryText: "x", Priority: 0}}}, nil
	})
	_, err := Plan(context.Background(), b, PlanInput{Request: validRequest(), MaxItems: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority")
}

func TestCallDetectsWrongVariant(t *testing.T) {
	b := BackendFunc(func(context.Context, Kind, Payload) (Payload, error) {
		return &WriteOutput{Content: "report"}, nil
	})
	_, err := Search(context.Background(), b, SearchInput{Item: types.SearchPlanItem{ID: "p1", QueryText: "q"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKindMismatch))
}

func TestCallNilOutput(t *testing.T) {
	b := BackendFunc(func(context.Context, Kind, Payload) (Payload, error) { return nil, nil })
	_, err := Write(context.Background(), b, WriteInput{Context: types.ReportContext{Request: validRequest()}})

	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, CodeInvalidOutput, be.Code)
}

func TestCallTypedNilOutput(t *testing.T) {
	tests := []struct {
		name string
		call func(b Backend) error
	}{
		{"plan", func(b Backend) error {
			_, err := Plan(context.Background(), b, PlanInput{Request: validRequest(), MaxItems: 3})
			return err
		}},
		{"search", func(b Backend) error {
			_, err := Search(context.Background(), b, SearchInput{Item: types.SearchPlanItem{ID: "p1", QueryText: "q"}})
			return err
		}},
		{"write", func(b Backend) error {
			_, err := Write(context.Background(), b, WriteInput{Context: types.ReportContext{Request: validRequest()}})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BackendFunc(func(_ context.Context, kind Kind, _ Payload) (Payload, error) {
				switch kind {
				case KindPlan:
					var out *PlanOutput
					return out, nil
				case KindSearch:
					var out *SearchOutput
					return out, nil
				default:
					var out *WriteOutput
					return out, nil
				}
			})

			var err error
			require.NotPanics(t, func() { err = tt.call(b) })
			var be *BackendError
			require.True(t, errors.As(err, &be), "got %v", err)
			assert.Equal(t, CodeInvalidOutput, be.Code)
		})
	}
}

func TestCallPassesBackendError(t *testing.T) {
	b := BackendFunc(func(context.Context, Kind, Payload) (Payload, error) {
		return nil, Errorf(CodeTransport, "connection reset")
	})
	_, err := FactCheck(context.Background(), b, FactCheckInput{Query: "q"})

	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, CodeTransport, be.Code)
	assert.Equal(t, "backend error (transport): connection reset", err.Error())
}

func TestSearchOutputZeroHitsIsValid(t *testing.T) {
	b := BackendFunc(func(context.Context, Kind, Payload) (Payload, error) {
		return &SearchOutput{}, nil
	})
	out, err := Search(context.Background(), b, SearchInput{Item: types.SearchPlanItem{ID: "p1", QueryText: "q"}})
	require.NoError(t, err)
	assert.Empty(t, out.Hits)
}

func TestGapOutputValidate(t *testing.T) {
	tests := []struct {
		name    string
		out     GapOutput
		wantErr bool
	}{
		{"empty", GapOutput{}, false},
		{"ok", GapOutput{Suggestions: []GapSuggestion{{QueryText: "q", Relevance: 0.5}}}, false},
		{"blank query", GapOutput{Suggestions: []GapSuggestion{{QueryText: " ", Relevance: 0.5}}}, true},
		{"relevance too high", GapOutput{Suggestions: []GapSuggestion{{QueryText: "q", Relevance: 1.5}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.out.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "Validate() = %v", err)
		})
	}
}

func TestFactCheckInputRejectsDuplicateIDs(t *testing.T) {
	in := FactCheckInput{Query: "q", Evidence: []EvidenceDigest{{ResultID: "a"}, {ResultID: "a"}}}
	assert.Error(t, in.Validate())
}

func TestVerificationUsable(t *testing.T) {
	assert.True(t, Verification{Verdict: types.VerdictVerified, Confidence: 0.9}.Usable())
	assert.False(t, Verification{Verdict: "maybe", Confidence: 0.9}.Usable())
	assert.False(t, Verification{Verdict: types.VerdictFalse, Confidence: 1.2}.Usable())
}

func TestNewOutput(t *testing.T) {
	for _, k := range Kinds {
		p, err := NewOutput(k)
		require.NoError(t, err)
		assert.Equal(t, k, p.Kind())
	}
	_, err := NewOutput("translate")
	assert.True(t, errors.Is(err, ErrUnsupportedKind))
}

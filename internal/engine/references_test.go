package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Ensemble/internal/domain"
)

func TestBuildTree_Order(t *testing.T) {
	ens := &domain.Ensemble{
		Flow: []domain.FlowStep{
			agent("a", "x", nil),
			{ID: "p", Type: domain.StepTypeParallel, Steps: []domain.FlowStep{
				agent("b", "x", nil),
				agent("c", "x", nil),
			}},
			agent("d", "x", nil),
		},
	}

	tree := BuildTree(ens)
	if len(tree.Nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(tree.Nodes))
	}

	expected := []string{"a", "p", "b", "c", "d"}
	for i, node := range tree.Order {
		if node.ID != expected[i] {
			t.Errorf("position %d: expected %s, got %s", i, expected[i], node.ID)
		}
	}

	p, b := tree.Nodes["p"], tree.Nodes["b"]
	if b.Parent != p || b.Depth != 1 {
		t.Error("b should be a child of p")
	}
	if !p.Contains(b) || b.Contains(p) {
		t.Error("containment is wrong")
	}
	if tree.Nodes["a"].End >= tree.Nodes["d"].Start {
		t.Error("a must complete before d starts")
	}
}

func TestCheckReferences(t *testing.T) {
	tests := []struct {
		name    string
		flow    []domain.FlowStep
		wantErr error
	}{
		{
			name: "backward reference",
			flow: []domain.FlowStep{
				agent("a", "x", nil),
				agent("b", "x", map[string]any{"v": "{{ a.output }}"}),
			},
		},
		{
			name: "forward reference",
			flow: []domain.FlowStep{
				agent("a", "x", map[string]any{"v": "{{ b.output }}"}),
				agent("b", "x", nil),
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "self reference",
			flow: []domain.FlowStep{
				agent("a", "x", map[string]any{"v": "{{ steps.a.output }}"}),
			},
			wantErr: ErrSelfReference,
		},
		{
			name: "parallel sibling",
			flow: []domain.FlowStep{
				{ID: "p", Type: domain.StepTypeParallel, Steps: []domain.FlowStep{
					agent("a", "x", nil),
					agent("b", "x", map[string]any{"v": "{{ a.output }}"}),
				}},
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "after parallel",
			flow: []domain.FlowStep{
				{ID: "p", Type: domain.StepTypeParallel, Steps: []domain.FlowStep{
					agent("a", "x", nil),
					agent("b", "x", nil),
				}},
				agent("c", "x", map[string]any{"v": "{{ a.output }}", "w": "{{ p.output }}"}),
			},
		},
		{
			name: "own container",
			flow: []domain.FlowStep{
				{ID: "seq", Type: domain.StepTypeSequence, Steps: []domain.FlowStep{
					agent("a", "x", map[string]any{"v": "{{ seq.output }}"}),
				}},
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "branch condition on child",
			flow: []domain.FlowStep{
				{ID: "br", Type: domain.StepTypeBranch, Condition: "a.output", Then: []domain.FlowStep{
					agent("a", "x", nil),
				}},
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "while condition on body is loop-carried",
			flow: []domain.FlowStep{
				{ID: "loop", Type: domain.StepTypeWhile, Condition: "!(inc.output >= 3)", MaxIterations: 10,
					Steps: []domain.FlowStep{
						agent("inc", "x", map[string]any{"a": "{{ inc.output ?? 0 }}"}),
					}},
			},
		},
		{
			name: "catch sees try steps",
			flow: []domain.FlowStep{
				{ID: "t", Type: domain.StepTypeTry,
					Steps: []domain.FlowStep{agent("risky", "x", nil)},
					Catch: []domain.FlowStep{agent("recover", "x", map[string]any{"e": "{{ error.message }}", "r": "{{ risky.status }}"})},
				},
			},
		},
		{
			name: "foreach template is iteration scoped",
			flow: []domain.FlowStep{
				{ID: "each", Type: domain.StepTypeForeach, Items: "input.list", Step: &domain.FlowStep{ID: "body", Agent: "x"}},
				agent("after", "x", map[string]any{"v": "{{ body.output }}", "all": "{{ each.output }}"}),
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "reduce cannot see map template",
			flow: []domain.FlowStep{
				{ID: "mr", Type: domain.StepTypeMapReduce, Items: "input.list",
					Map:    &domain.FlowStep{ID: "mapper", Agent: "x"},
					Reduce: &domain.FlowStep{ID: "reducer", Agent: "x", Input: map[string]any{"v": "{{ mapper.output }}"}},
				},
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "when on later step",
			flow: []domain.FlowStep{
				{ID: "a", Agent: "x", When: "b.output"},
				agent("b", "x", nil),
			},
			wantErr: ErrForwardReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReferences(&domain.Ensemble{Flow: tt.flow})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

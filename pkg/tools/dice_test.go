package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedDice(value int) *DiceTool {
	return &DiceTool{roll: func(int) int { return value }}
}

func TestRollDice(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		rollVal int
		want    int
	}{
		{name: "single die", expr: "1d6", rollVal: 4, want: 4},
		{name: "implicit count", expr: "d20", rollVal: 11, want: 11},
		{name: "multiple dice", expr: "2d6", rollVal: 3, want: 6},
		{name: "dice plus modifier", expr: "2d6+2", rollVal: 3, want: 8},
		{name: "negative dice term", expr: "1d4-1d4", rollVal: 2, want: 0},
		{name: "mixed expression", expr: "2d6+1d4+2", rollVal: 1, want: 5},
		{name: "negative modifier", expr: "1d6-3", rollVal: 6, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := fixedDice(tt.rollVal).Execute(context.Background(), map[string]interface{}{"dice_str": tt.expr})
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("The result of rolling %s is %d.", tt.expr, tt.want), result)
		})
	}
}

func TestRollDiceRange(t *testing.T) {
	result, err := NewDiceTool().Execute(context.Background(), map[string]interface{}{"dice_str": "1d6"})
	require.NoError(t, err)
	assert.Regexp(t, `^The result of rolling 1d6 is [1-6]\.$`, result)
}

func TestRollDiceMissingArg(t *testing.T) {
	_, err := NewDiceTool().Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

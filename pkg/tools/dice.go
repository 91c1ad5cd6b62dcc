package tools

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

var diceTokenRe = regexp.MustCompile(`[+-]?\d*d?\d+`)

// DiceTool rolls D&D-style dice expressions like "2d6+1d4+2".
type DiceTool struct {
	// roll is swappable for deterministic tests.
	roll func(sides int) int
}

func NewDiceTool() *DiceTool {
	return &DiceTool{roll: func(sides int) int { return rand.Intn(sides) + 1 }}
}

func (t *DiceTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "roll_dice",
		Description: "Roll complex Dungeons & Dragons-style dice expressions. Supports multiple dice and modifiers in one expression.",
		Parameters: []ToolParameter{
			{
				Name:        "dice_str",
				Type:        "string",
				Description: "A dice expression (e.g., \"2d6+1d4+2\", \"d20+2d6-1\"). Multiple terms separated by '+' or '-'; a dice term is XdY (X defaults to 1), a modifier term is just a number.",
				Required:    true,
			},
		},
	}
}

func (t *DiceTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	diceStr := stringArg(args, "dice_str")
	if strings.TrimSpace(diceStr) == "" {
		return nil, fmt.Errorf("dice_str is required")
	}

	total := 0
	for _, token := range diceTokenRe.FindAllString(strings.ToLower(strings.TrimSpace(diceStr)), -1) {
		if strings.Contains(token, "d") {
			sign := 1
			if strings.HasPrefix(token, "-") {
				sign = -1
			}
			token = strings.TrimLeft(token, "+-")
			parts := strings.SplitN(token, "d", 2)
			numDice := 1
			if parts[0] != "" {
				n, err := strconv.Atoi(parts[0])
				if err != nil {
					return nil, fmt.Errorf("invalid dice term %q", token)
				}
				numDice = n
			}
			sides, err := strconv.Atoi(parts[1])
			if err != nil || sides < 1 {
				return nil, fmt.Errorf("invalid dice term %q", token)
			}
			for i := 0; i < numDice; i++ {
				total += sign * t.roll(sides)
			}
		} else {
			n, err := strconv.Atoi(token)
			if err != nil {
				return nil, fmt.Errorf("invalid modifier %q", token)
			}
			total += n
		}
	}
	return fmt.Sprintf("The result of rolling %s is %d.", diceStr, total), nil
}

package models

type TestCase struct {
	ID       int    `json:"id"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Hidden   bool   `json:"hidden"`
}

type Problem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Difficulty  string     `json:"difficulty"` // easy, medium, hard
	Rating      int        `json:"rating"`
	TimeLimitMs int        `json:"timeLimitMs"`
	TestCases   []TestCase `json:"testCases"`
}

// ProblemView is the client-facing projection of a problem. Hidden test
// cases are withheld entirely, not just their expected output.
type ProblemView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Difficulty  string     `json:"difficulty"`
	Rating      int        `json:"rating"`
	TimeLimitMs int        `json:"timeLimitMs"`
	TestCases   []TestCase `json:"testCases"`
}

// PublicView strips hidden test cases for delivery to clients.
func (p *Problem) PublicView() *ProblemView {
	visible := make([]TestCase, 0, len(p.TestCases))
	for _, tc := range p.TestCases {
		if !tc.Hidden {
			visible = append(visible, tc)
		}
	}

	return &ProblemView{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Difficulty:  p.Difficulty,
		Rating:      p.Rating,
		TimeLimitMs: p.TimeLimitMs,
		TestCases:   visible,
	}
}

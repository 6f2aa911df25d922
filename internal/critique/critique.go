package critique

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Critique is the fixed shape the critic must answer with.
type Critique struct {
	Title          string `json:"title"`
	Movement       string `json:"movement"`
	MovementEn     string `json:"movement_en"`
	MovementDesc   string `json:"movement_desc"`
	Rating         Rating `json:"rating"`
	Interpretation string `json:"interpretation"`
	Emotions       string `json:"emotions"`
	Price          string `json:"price"`
	Exhibition     string `json:"exhibition"`
	Closing        string `json:"closing"`
}

var requiredFields = []string{
	"title", "movement", "movement_en", "movement_desc", "rating",
	"interpretation", "emotions", "price", "exhibition", "closing",
}

// Rating is a 1-5 star score. The model sends it either as a number or as a
// numeric string.
type Rating int

func (r *Rating) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("rating %s is not a number", data)
	}
	*r = Rating(math.Round(f))
	return nil
}

// Parse validates raw against the Critique shape. Every field must be
// present and rating must fall in 1..5.
func Parse(raw string) (Critique, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Critique{}, fmt.Errorf("critique is not a JSON object: %w", err)
	}
	var missing []string
	for _, name := range requiredFields {
		value, ok := fields[name]
		if !ok || string(bytes.TrimSpace(value)) == "null" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Critique{}, fmt.Errorf("critique missing fields: %s", strings.Join(missing, ", "))
	}

	var c Critique
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Critique{}, fmt.Errorf("decode critique: %w", err)
	}
	if c.Rating < 1 || c.Rating > 5 {
		return Critique{}, errors.New("critique rating out of range 1-5")
	}
	return c, nil
}

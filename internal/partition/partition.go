// Package partition sorts evaluated checks into the buckets shown to the
// user.
package partition

import (
	"go.uber.org/zap"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

// Action is one check as displayed.
type Action struct {
	Title       string                  `json:"title"`
	Name        string                  `json:"name"`
	Status      compliance.Status       `json:"status"`
	Description string                  `json:"description,omitempty"`
	Link        string                  `json:"link,omitempty"`
	Directions  string                  `json:"directions"`
	Results     []compliance.ItemResult `json:"results,omitempty"`
}

// Partition holds every non-null check of a result in exactly one bucket,
// in result order.
type Partition struct {
	Critical  []Action `json:"critical"`
	Suggested []Action `json:"suggested"`
	Unknown   []Action `json:"unknown"`
	Done      []Action `json:"done"`
	Error     []Action `json:"error"`
}

// Len counts the actions across every bucket.
func (p Partition) Len() int {
	return len(p.Critical) + len(p.Suggested) + len(p.Unknown) + len(p.Done) + len(p.Error)
}

// Compute partitions result using practices for titles and directions on
// platform. Checks without practice metadata for platform are skipped and
// logged.
func Compute(result compliance.ScanResult, practices map[string]Practice, platform string, log *zap.Logger) Partition {
	p := Partition{
		Critical:  []Action{},
		Suggested: []Action{},
		Unknown:   []Action{},
		Done:      []Action{},
		Error:     []Action{},
	}
	for _, c := range result.Checks {
		if c.Name == "status" || c.IsNull() {
			continue
		}
		status, resolved := c.Reduce()

		practice, ok := practices[c.Name]
		if !ok {
			log.Error("no practice for check", zap.String("check", c.Name))
			continue
		}
		directions, ok := practice.Directions[platform]
		if !ok {
			log.Error("no directions for check",
				zap.String("check", c.Name),
				zap.String("platform", platform))
			continue
		}

		a := Action{
			Title:       c.Name,
			Name:        c.Name,
			Status:      status,
			Description: practice.Description,
			Link:        practice.Link,
			Directions:  directions,
		}
		if practice.Title != "" {
			a.Title = practice.Title
		}
		if c.IsArray() {
			a.Results = c.Items
		}

		if !resolved {
			p.Suggested = append(p.Suggested, a)
			continue
		}
		switch status {
		case compliance.StatusPass:
			p.Done = append(p.Done, a)
		case compliance.StatusFail:
			p.Critical = append(p.Critical, a)
		case compliance.StatusUnknown:
			p.Unknown = append(p.Unknown, a)
		case compliance.StatusError:
			p.Error = append(p.Error, a)
		default:
			p.Suggested = append(p.Suggested, a)
		}
	}
	return p
}

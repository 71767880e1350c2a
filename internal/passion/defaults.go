package passion

import (
	"embed"
	"fmt"

	"github.com/goccy/go-json"
)

//go:embed seed/*.json
var seedFS embed.FS

// DefaultProfiles returns the bundled corpus used when the live corpus is
// unavailable or empty. Each call returns a fresh slice.
func DefaultProfiles() ([]Profile, error) {
	var profiles []Profile
	if err := readSeed("seed/profiles.json", &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// DefaultQuestions returns the bundled quiz.
func DefaultQuestions() ([]Question, error) {
	var questions []Question
	if err := readSeed("seed/questions.json", &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// MustDefaultProfiles panics if the embedded seed cannot be decoded, which
// can only happen with a broken build.
func MustDefaultProfiles() []Profile {
	p, err := DefaultProfiles()
	if err != nil {
		panic(err)
	}
	return p
}

func readSeed(name string, out any) error {
	raw, err := seedFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("passion: read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("passion: decode %s: %w", name, err)
	}
	return nil
}

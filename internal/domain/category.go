package domain

// Category groups tickets and decides where their channels live.
type Category struct {
	ID                  string `yaml:"id"`
	Name                string `yaml:"name"`
	ParentRef           string `yaml:"parent"`
	TranscriptParentRef string `yaml:"transcript_parent"`
}

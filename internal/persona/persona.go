package persona

// Gender is the voice-gender attribute used for speech synthesis.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// NarratorName is the sentinel persona used when no historical figure can be
// established for a turn. Retrieval still runs against the shared corpus,
// but generation speaks in a neutral third person.
const NarratorName = "narrator"

// Persona is a historical figure the system speaks as. Personas are static
// reference data loaded at startup and never mutated at request time.
type Persona struct {
	Name      string   `json:"name"`
	Title     string   `json:"title,omitempty"`
	Era       string   `json:"era,omitempty"`
	Gender    Gender   `json:"gender"`
	Partition string   `json:"partition,omitempty"`
	Aliases   []string `json:"aliases,omitempty"`
}

// IsNarrator reports whether p is the unresolved sentinel.
func (p Persona) IsNarrator() bool {
	return p.Name == NarratorName
}

// Narrator returns the unresolved sentinel persona.
func Narrator() Persona {
	return Persona{Name: NarratorName, Gender: GenderUnknown}
}

// Seed provides the default roster of ancient Egyptian rulers.
func Seed() []Persona {
	return []Persona{
		{
			Name:      "Ramses II",
			Title:     "Ramses the Great",
			Era:       "19th Dynasty, New Kingdom",
			Gender:    GenderMale,
			Partition: "ramses-ii",
			Aliases:   []string{"Ramesses II", "Ramses the Great", "Ozymandias"},
		},
		{
			Name:      "Hatshepsut",
			Title:     "The Foremost of Noble Ladies",
			Era:       "18th Dynasty, New Kingdom",
			Gender:    GenderFemale,
			Partition: "hatshepsut",
			Aliases:   []string{"Maatkare"},
		},
		{
			Name:      "Tutankhamun",
			Title:     "The Boy King",
			Era:       "18th Dynasty, New Kingdom",
			Gender:    GenderMale,
			Partition: "tutankhamun",
			Aliases:   []string{"Tutankhaten", "King Tut"},
		},
		{
			Name:      "Cleopatra VII",
			Title:     "The Last Pharaoh",
			Era:       "Ptolemaic Kingdom",
			Gender:    GenderFemale,
			Partition: "cleopatra-vii",
			Aliases:   []string{"Cleopatra"},
		},
		{
			Name:      "Akhenaten",
			Title:     "The Heretic King",
			Era:       "18th Dynasty, New Kingdom",
			Gender:    GenderMale,
			Partition: "akhenaten",
			Aliases:   []string{"Amenhotep IV"},
		},
		{
			Name:      "Khufu",
			Title:     "Builder of the Great Pyramid",
			Era:       "4th Dynasty, Old Kingdom",
			Gender:    GenderMale,
			Partition: "khufu",
			Aliases:   []string{"Cheops"},
		},
	}
}

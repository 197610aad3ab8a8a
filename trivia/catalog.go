package trivia

// DefaultCatalog returns the built-in question set. Callers receive fresh
// clones, so a running game can never alias or mutate the catalog.
func DefaultCatalog() []Question {
	out := make([]Question, len(catalog))
	for i, q := range catalog {
		out[i] = q.Clone()
	}
	return out
}

var catalog = []Question{
	{
		ID:          "q-planet-red",
		Prompt:      "Which planet is known as the Red Planet?",
		Choices:     []string{"Venus", "Mars", "Jupiter", "Mercury"},
		AnswerIndex: 1,
	},
	{
		ID:          "q-ocean-largest",
		Prompt:      "What is the largest ocean on Earth?",
		Choices:     []string{"Atlantic", "Indian", "Arctic", "Pacific"},
		AnswerIndex: 3,
	},
	{
		ID:          "q-element-o",
		Prompt:      "Which element has the chemical symbol O?",
		Choices:     []string{"Gold", "Oxygen", "Osmium", "Oganesson"},
		AnswerIndex: 1,
	},
	{
		ID:          "q-mona-lisa",
		Prompt:      "Who painted the Mona Lisa?",
		Choices:     []string{"Michelangelo", "Raphael", "Leonardo da Vinci", "Donatello"},
		AnswerIndex: 2,
	},
	{
		ID:          "q-continent-count",
		Prompt:      "How many continents are there?",
		Choices:     []string{"5", "6", "7", "8"},
		AnswerIndex: 2,
	},
	{
		ID:          "q-binary-base",
		Prompt:      "Binary numbers use which base?",
		Choices:     []string{"Base 2", "Base 8", "Base 10", "Base 16"},
		AnswerIndex: 0,
	},
	{
		ID:          "q-capital-japan",
		Prompt:      "What is the capital of Japan?",
		Choices:     []string{"Osaka", "Kyoto", "Tokyo", "Nagoya"},
		AnswerIndex: 2,
	},
	{
		ID:          "q-light-speed",
		Prompt:      "Roughly how fast does light travel in a vacuum?",
		Choices:     []string{"300 km/s", "3,000 km/s", "30,000 km/s", "300,000 km/s"},
		AnswerIndex: 3,
	},
	{
		ID:          "q-smallest-prime",
		Prompt:      "What is the smallest prime number?",
		Choices:     []string{"0", "1", "2", "3"},
		AnswerIndex: 2,
	},
	{
		ID:          "q-dna-shape",
		Prompt:      "What shape is a DNA molecule?",
		Choices:     []string{"Single strand", "Double helix", "Triple ring", "Flat sheet"},
		AnswerIndex: 1,
	},
	{
		ID:          "q-everest",
		Prompt:      "Which is the tallest mountain above sea level?",
		Choices:     []string{"K2", "Kangchenjunga", "Mount Everest", "Denali"},
		AnswerIndex: 2,
	},
	{
		ID:          "q-go-mascot",
		Prompt:      "What animal is the Go programming language mascot?",
		Choices:     []string{"A crab", "A gopher", "A penguin", "An octopus"},
		AnswerIndex: 1,
	},
}

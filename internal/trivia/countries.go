package trivia

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/sahilm/fuzzy"
)

// CountryColumn is the CSV header holding country names.
const CountryColumn = "Country"

// maxNameWords bounds the n-grams tried as country names ("Central African Republic").
const maxNameWords = 4

// questionWords never start a country name.
var questionWords = map[string]bool{
	"what": true, "which": true, "where": true, "when": true, "who": true, "how": true,
	"tell": true, "does": true, "is": true, "the": true, "please": true, "and": true,
}

// Stat describes one answerable column of the country table.
type Stat struct {
	Column   string
	Keywords []string
	Template string
}

// Stats lists the supported columns in tie-break order.
var Stats = []Stat{
	{
		Column:   "Region",
		Keywords: []string{"region", "continent", "located", "location", "where is", "part of the world"},
		Template: "{country} is located in the {value} region.",
	},
	{
		Column:   "Population",
		Keywords: []string{"population", "people", "how many people", "inhabitants", "live in", "populous", "residents"},
		Template: "The population of {country} is {value} people.",
	},
	{
		Column:   "Area (sq. mi.)",
		Keywords: []string{"area", "big", "large", "size", "square mile", "square miles", "how big", "surface"},
		Template: "{country} covers {value} square miles.",
	},
	{
		Column:   "Pop. Density (per sq. mi.)",
		Keywords: []string{"density", "dense", "densely", "crowded", "per square mile", "population density"},
		Template: "{country} has a population density of {value} people per square mile.",
	},
	{
		Column:   "Coastline (coast/area ratio)",
		Keywords: []string{"coast", "coastline", "coastal", "shore", "shoreline"},
		Template: "The coastline-to-area ratio for {country} is {value}.",
	},
	{
		Column:   "Net migration",
		Keywords: []string{"migration", "net migration", "migrants", "immigration", "emigration", "immigrants"},
		Template: "{country} has a net migration rate of {value} people per 1,000 residents.",
	},
	{
		Column:   "Infant mortality (per 1000 births)",
		Keywords: []string{"infant", "infants", "mortality", "infant mortality", "baby", "babies"},
		Template: "The infant mortality rate in {country} is {value} deaths per 1,000 births.",
	},
	{
		Column:   "GDP ($ per capita)",
		Keywords: []string{"gdp", "per capita", "economy", "economic", "rich", "wealth", "wealthy", "income"},
		Template: "The GDP per capita of {country} is ${value}.",
	},
	{
		Column:   "Literacy (%)",
		Keywords: []string{"literacy", "literate", "read", "write", "reading"},
		Template: "{country}'s literacy rate is {value}%.",
	},
	{
		Column:   "Phones (per 1000)",
		Keywords: []string{"phone", "phones", "cellular", "mobile", "cell", "subscriptions", "telephones"},
		Template: "There are {value} cellular subscriptions per 1,000 people in {country}.",
	},
	{
		Column:   "Birthrate",
		Keywords: []string{"birthrate", "birth rate", "births", "birth", "born"},
		Template: "{country} has a birthrate of {value} births per 1,000 people.",
	},
	{
		Column:   "Deathrate",
		Keywords: []string{"deathrate", "death rate", "deaths", "death", "die"},
		Template: "{country} has a death rate of {value} deaths per 1,000 people.",
	},
}

// Country is one row of the country table.
type Country struct {
	Name   string
	Values map[string]string
}

// CountryStore answers stat questions about countries from a CSV table.
// It remembers the last country discussed so follow-ups like
// "and its GDP?" resolve without naming it again.
type CountryStore struct {
	countries []Country
	names     []string
	byName    map[string]int

	mu   sync.Mutex
	last int
}

// LoadCountryStore reads the table at path.
func LoadCountryStore(path string) (*CountryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open country data: %w", err)
	}
	defer f.Close()
	store, err := NewCountryStore(f)
	if err != nil {
		return nil, err
	}
	slog.Info("CountryStore loaded", "path", path, "countries", len(store.countries))
	return store, nil
}

// NewCountryStore parses a CSV with a Country column and any of the Stats columns.
func NewCountryStore(r io.Reader) (*CountryStore, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read country header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	nameCol := -1
	for i, h := range header {
		if h == CountryColumn {
			nameCol = i
			break
		}
	}
	if nameCol < 0 {
		return nil, fmt.Errorf("country data has no %q column", CountryColumn)
	}

	var countries []Country
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read country row: %w", err)
		}
		if nameCol >= len(row) {
			continue
		}
		name := strings.TrimSpace(row[nameCol])
		if name == "" {
			continue
		}
		values := make(map[string]string, len(header))
		for i, h := range header {
			if i == nameCol || i >= len(row) {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				values[h] = v
			}
		}
		countries = append(countries, Country{Name: name, Values: values})
	}
	sort.Slice(countries, func(i, j int) bool {
		return strings.ToLower(countries[i].Name) < strings.ToLower(countries[j].Name)
	})

	s := &CountryStore{
		countries: countries,
		names:     make([]string, len(countries)),
		byName:    make(map[string]int, len(countries)),
		last:      -1,
	}
	for i, c := range countries {
		s.names[i] = c.Name
		s.byName[strings.Join(lowerWords(c.Name), " ")] = i
	}
	return s, nil
}

// Len reports how many countries are loaded.
func (s *CountryStore) Len() int { return len(s.countries) }

// Answer implements Answerer.
func (s *CountryStore) Answer(ctx context.Context, question string) (string, bool) {
	stat, ok := InferStat(question)
	if !ok {
		return "", false
	}

	s.mu.Lock()
	idx, found := s.findCountry(question)
	if found {
		s.last = idx
	} else if s.last >= 0 {
		idx, found = s.last, true
	}
	s.mu.Unlock()
	if !found {
		return "", false
	}

	country := s.countries[idx]
	value, ok := country.Values[stat.Column]
	if !ok {
		return fmt.Sprintf("I don't have %s data for %s.", strings.ToLower(stat.Column), country.Name), true
	}
	return render(stat.Template, country.Name, value), true
}

// Forget drops the remembered country.
func (s *CountryStore) Forget() {
	s.mu.Lock()
	s.last = -1
	s.mu.Unlock()
}

// FindCountry returns the country mentioned in text, if any.
func (s *CountryStore) FindCountry(text string) (Country, bool) {
	idx, ok := s.findCountry(text)
	if !ok {
		return Country{}, false
	}
	return s.countries[idx], true
}

// findCountry tries exact n-gram matches first, longest first, then fuzzy
// matches of capitalized n-grams.
func (s *CountryStore) findCountry(text string) (int, bool) {
	words := splitWords(text)
	for n := maxNameWords; n >= 1; n-- {
		for i := 0; i+n <= len(words); i++ {
			phrase := strings.ToLower(strings.Join(words[i:i+n], " "))
			if idx, ok := s.byName[phrase]; ok {
				return idx, true
			}
		}
	}

	for n := maxNameWords; n >= 1; n-- {
		for i := 0; i+n <= len(words); i++ {
			gram := words[i : i+n]
			if !allCapitalized(gram) || questionWords[strings.ToLower(gram[0])] {
				continue
			}
			phrase := strings.Join(gram, " ")
			if len(phrase) < 4 {
				continue
			}
			matches := fuzzy.Find(phrase, s.names)
			for _, m := range matches {
				// subsequence matches into much longer names are noise
				if len(m.Str) <= 2*len(phrase) && strings.EqualFold(m.Str[:1], phrase[:1]) {
					return m.Index, true
				}
			}
		}
	}
	return -1, false
}

// InferStat picks the column a question asks about by keyword scoring.
// Multi-word keywords weigh more; ties go to the earlier column.
func InferStat(question string) (Stat, bool) {
	normalized := " " + strings.Join(lowerWords(question), " ") + " "
	best, bestScore := -1, 0
	for i, stat := range Stats {
		score := 0
		for _, kw := range stat.Keywords {
			if strings.Contains(normalized, " "+kw+" ") {
				score += len(strings.Fields(kw))
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Stat{}, false
	}
	return Stats[best], true
}

func render(template, country, value string) string {
	return strings.NewReplacer("{country}", country, "{value}", value).Replace(template)
}

// splitWords breaks text into words, dropping punctuation and possessive 's.
func splitWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '&' && r != '-'
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(strings.TrimSuffix(f, "'s"), "'")
		f = strings.Trim(f, "'-")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

func lowerWords(text string) []string {
	words := splitWords(text)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

func allCapitalized(words []string) bool {
	for _, w := range words {
		r := []rune(w)
		if len(r) == 0 || !unicode.IsUpper(r[0]) {
			return false
		}
	}
	return true
}

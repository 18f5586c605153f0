package catalogsync

import (
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

const (
	// DefaultMinConfidence is the confidence a prediction needs before it
	// is applied.
	DefaultMinConfidence = 80
	nameMatchFloor       = 70
	keywordConfidence    = 85
)

type keywordGroup struct {
	category string
	keywords []string
}

// keywordGroups are tried in order; the first group with a keyword in the
// product name picks the category.
var keywordGroups = []keywordGroup{
	{"dairy", []string{"milk", "cheese", "yogurt", "cream", "butter", "curd", "paneer", "ghee"}},
	{"frozen", []string{"frozen", "ice cream", "popsicle", "freezer"}},
	{"beverages", []string{"juice", "soda", "drink", "water", "tea", "coffee", "cola", "energy"}},
	{"snacks", []string{"chips", "crackers", "cookies", "biscuits", "nuts", "popcorn", "candy"}},
	{"bakery", []string{"bread", "cake", "pastry", "muffin", "donut", "roll", "bun"}},
	{"produce", []string{"fruit", "vegetable", "fresh", "apple", "banana", "tomato", "onion", "potato"}},
	{"meat", []string{"chicken", "beef", "pork", "lamb", "meat", "steak", "sausage"}},
	{"seafood", []string{"fish", "shrimp", "salmon", "tuna", "crab", "lobster", "seafood"}},
	{"grocery", []string{"rice", "flour", "oil", "sugar", "salt", "spice", "sauce", "pasta", "noodle"}},
	{"household", []string{"soap", "detergent", "cleaner", "tissue", "paper", "towel"}},
	{"personal care", []string{"shampoo", "toothpaste", "lotion", "deodorant"}},
}

// Prediction is a suggested category for one product.
type Prediction struct {
	Category   sourcing.StoreCategory
	Confidence int
}

// Predictor suggests store categories from product names.
type Predictor struct {
	categories []sourcing.StoreCategory
	lowered    []string
}

// NewPredictor builds a Predictor over the store's categories. Categories
// named "Uncategorized" are never suggested.
func NewPredictor(categories []sourcing.StoreCategory) *Predictor {
	p := &Predictor{}
	for _, c := range categories {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || strings.Contains(name, "uncategorized") {
			continue
		}
		p.categories = append(p.categories, c)
		p.lowered = append(p.lowered, name)
	}
	return p
}

// Predict matches name against category names first. A match of at least
// DefaultMinConfidence wins outright; otherwise the keyword groups are
// consulted, and failing those the best name match of at least 70 is
// returned. ok is false when nothing matched.
func (p *Predictor) Predict(name string) (pred Prediction, ok bool) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == "" {
		return Prediction{}, false
	}

	best, bestScore := -1, 0
	for i, category := range p.lowered {
		score := fuzzy.PartialRatio(lowered, category)
		if score > bestScore && score >= nameMatchFloor {
			best, bestScore = i, score
		}
	}
	if best >= 0 && bestScore >= DefaultMinConfidence {
		return Prediction{Category: p.categories[best], Confidence: bestScore}, true
	}

	for _, group := range keywordGroups {
		if !containsAny(lowered, group.keywords) {
			continue
		}
		for i, category := range p.lowered {
			if strings.Contains(category, group.category) || fuzzy.PartialRatio(group.category, category) >= DefaultMinConfidence {
				return Prediction{Category: p.categories[i], Confidence: keywordConfidence}, true
			}
		}
	}

	if best >= 0 {
		return Prediction{Category: p.categories[best], Confidence: bestScore}, true
	}
	return Prediction{}, false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

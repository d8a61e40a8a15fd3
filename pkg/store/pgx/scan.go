package pgx

import (
	"strings"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const productColumns = `p.id, p.name, p.description, p.price, p.currency, p.category, p.brand,
	p.keywords, p.attributes, p.stock_status, p.difficulty, p.professional`

// scanProduct reads productColumns followed by extra.
func scanProduct(row pgxv5.Row, extra ...any) (common.Product, error) {
	var p common.Product
	var difficulty int16
	dest := []any{
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Currency, &p.Category, &p.Brand,
		&p.Keywords, &p.Attributes, &p.StockStatus, &difficulty, &p.Professional,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return p, err
	}
	p.Difficulty = common.SkillLevel(difficulty)
	return p, nil
}

// searchDocument is the text indexed for product full-text search.
func searchDocument(p common.Product) string {
	parts := []string{p.Name, p.Description, p.Brand, p.Category}
	parts = append(parts, p.Keywords...)
	return util.SanitizePostgresText(strings.Join(parts, " "))
}

// prefixQuery builds a to_tsquery expression matching any word that starts
// with one of the match terms of text.
func prefixQuery(text string) string {
	terms := util.MatchTerms(text)
	for i, t := range terms {
		terms[i] = "'" + strings.ReplaceAll(t, "'", "''") + "':*"
	}
	return strings.Join(terms, " | ")
}

// orQuery builds a to_tsquery expression matching any token of text.
func orQuery(text string) string {
	tokens := util.Tokenize(text)
	for i, t := range tokens {
		tokens[i] = "'" + strings.ReplaceAll(t, "'", "''") + "'"
	}
	return strings.Join(tokens, " | ")
}

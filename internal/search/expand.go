package search

import "strings"

// synonyms is a small curated table for query expansion. Expansion is
// OR-based: the original term always stays in the query, so it can only
// widen recall, never change what the original query would match.
var synonyms = map[string][]string{
	"bug":      {"issue", "defect", "error"},
	"error":    {"failure", "exception", "bug"},
	"fix":      {"repair", "resolve", "patch"},
	"fast":     {"quick", "rapid"},
	"slow":     {"sluggish", "laggy"},
	"delete":   {"remove", "erase"},
	"create":   {"make", "build", "add"},
	"config":   {"configuration", "settings"},
	"doc":      {"document", "documentation"},
	"pic":      {"picture", "image", "photo"},
	"photo":    {"picture", "image"},
	"car":      {"vehicle", "automobile"},
	"buy":      {"purchase"},
	"cheap":    {"inexpensive", "affordable"},
	"big":      {"large", "huge"},
	"small":    {"little", "tiny"},
	"start":    {"begin", "launch"},
	"stop":     {"halt", "end"},
	"help":     {"assist", "support"},
	"learn":    {"study", "understand"},
	"recipe":   {"dish", "cooking"},
	"movie":    {"film"},
	"song":     {"music", "track"},
	"job":      {"work", "career", "position"},
	"money":    {"cash", "funds"},
	"house":    {"home", "apartment"},
	"trip":     {"travel", "journey", "vacation"},
	"doctor":   {"physician"},
	"medicine": {"medication", "drug"},
	"exercise": {"workout", "training"},
}

// ExpandQuery rewrites each term with known synonyms into a websearch
// OR group: "fix bug" -> "(fix OR repair OR resolve OR patch) (bug OR
// issue OR defect OR error)". Terms without synonyms pass through.
func ExpandQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return query
	}
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		alts, ok := synonyms[strings.ToLower(term)]
		if !ok {
			out = append(out, term)
			continue
		}
		group := append([]string{term}, alts...)
		out = append(out, "("+strings.Join(group, " OR ")+")")
	}
	return strings.Join(out, " ")
}

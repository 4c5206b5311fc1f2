package pipeline

import (
	"regexp"
	"strings"
)

var closingPhrases = []string{
	"no", "nope", "no questions", "no more questions", "no other questions",
	"no other question", "don't have any questions", "don't have any other questions",
	"i don't have any questions", "nothing else", "that is all", "that's all",
	"goodbye", "bye", "thank you goodbye", "thanks goodbye", "end call",
	"hang up", "that will be all", "i am done", "i'm done", "no thanks",
	"gotta go", "have to go", "we re done", "thats it", "end this call",
	"that concludes", "thanks for your help", "i am finished", "i am good",
	"that is enough", "all set", "i will let you go", "good day", "have a good day",
}

var noMoreQuestions = []*regexp.Regexp{
	regexp.MustCompile(`no,?\s+(i)?\s*(don'?t|do not)?\s*have\s*(any\s+more|any\s+other|any|more|other)?\s*questions`),
	regexp.MustCompile(`(i)?\s*(don'?t|do not)\s*have\s*(any\s+more|any\s+other|any|more|other)?\s*questions`),
	regexp.MustCompile(`that'?s\s+(all|it)`),
	regexp.MustCompile(`nothing\s+(else|more)`),
	regexp.MustCompile(`(i)'?m\s+(good|done|finished|all\s+set)`),
	regexp.MustCompile(`(no|nope),?\s+(thank|thanks)\s+(you|ya)`),
}

// TerminationDetector decides whether an utterance ends the call.
//
// By default a closing phrase matches anywhere in the utterance, so "no"
// also fires inside "know" or "another". With wholeWords set, phrases must
// appear as whole words.
type TerminationDetector struct {
	wholeWords bool
	phraseRes  []*regexp.Regexp
}

// NewTerminationDetector builds a detector over the closing phrase list.
func NewTerminationDetector(wholeWords bool) *TerminationDetector {
	d := &TerminationDetector{wholeWords: wholeWords}
	if wholeWords {
		for _, p := range closingPhrases {
			d.phraseRes = append(d.phraseRes, regexp.MustCompile(`(^|\W)`+regexp.QuoteMeta(p)+`(\W|$)`))
		}
	}
	return d
}

// IsEndOfCall reports whether text is a closing phrase or a paraphrase of
// "no further questions".
func (d *TerminationDetector) IsEndOfCall(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	if d.matchesPhrase(normalized) {
		return true
	}
	for _, re := range noMoreQuestions {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

func (d *TerminationDetector) matchesPhrase(normalized string) bool {
	if d.wholeWords {
		for _, re := range d.phraseRes {
			if re.MatchString(normalized) {
				return true
			}
		}
		return false
	}
	for _, p := range closingPhrases {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

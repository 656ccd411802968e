package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/earshot/pkg/memory"
)

// MinTextSimilarity is the phrase similarity an utterance needs for its
// embedding to be accepted.
const MinTextSimilarity = 0.5

// DefaultProfileName names the enrolled primary profile.
const DefaultProfileName = "primary"

// Outcome messages. MessageVoiceUnclear accompanies an accepted step whose
// embedding could not be stored; the others explain a retry.
const (
	MessageVoiceUnclear   = "voice unclear, voiceprint not saved"
	MessagePhraseMismatch = "phrase did not match"
	MessageStoreFailed    = "could not save voiceprint"
)

// DefaultPhrases is the stock enrollment script.
var DefaultPhrases = []string{
	"The quick brown fox jumps over the lazy dog",
	"I am enrolling my voice with earshot today",
	"Please remember how my voice sounds",
}

// OutcomeKind classifies an [EnrollmentOutcome].
type OutcomeKind int

const (
	// OutcomeDiscarded means the result belonged to an aborted or finished
	// enrollment and was ignored.
	OutcomeDiscarded OutcomeKind = iota

	// OutcomeStepAccepted means the step was committed and the next phrase
	// is expected.
	OutcomeStepAccepted

	// OutcomeCompleted means the last phrase was accepted.
	OutcomeCompleted

	// OutcomeRetry means the same phrase must be read again.
	OutcomeRetry
)

// String returns the label used in logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeStepAccepted:
		return "step_accepted"
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// EnrollmentOutcome is the result of one [Enrollment.Enroll] call.
type EnrollmentOutcome struct {
	Kind OutcomeKind

	// Step is the index of the phrase expected next.
	Step int

	// Phrase is the text of Step, empty after completion.
	Phrase string

	// Similarity is the measured phrase similarity.
	Similarity float64

	// Message explains a retry, or an accepted step without a stored
	// voiceprint.
	Message string
}

// Enrollment is the voiceprint enrollment state machine. It is idle until
// [Enrollment.Start] and then expects the configured phrases in order. It is
// safe for concurrent use.
type Enrollment struct {
	profiles    memory.SpeakerProfileStore
	modelID     string
	profileName string

	mu sync.Mutex
	// phrases is the configured list; script is the copy the running
	// enrollment reads, taken at Start.
	phrases []string
	script  []string
	active  bool
	step    int
	gen     uint64
}

// NewEnrollment creates an idle enrollment flow. Accepted embeddings are
// stored under profileName tagged with modelID. An empty phrase list selects
// [DefaultPhrases]; an empty profileName selects [DefaultProfileName].
func NewEnrollment(profiles memory.SpeakerProfileStore, modelID, profileName string, phrases []string) *Enrollment {
	if profileName == "" {
		profileName = DefaultProfileName
	}
	e := &Enrollment{profiles: profiles, modelID: modelID, profileName: profileName}
	e.SetPhrases(phrases)
	return e
}

// SetPhrases replaces the configured phrases. A running enrollment keeps
// its script; the new list takes effect with the next Start.
func (e *Enrollment) SetPhrases(phrases []string) {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	e.mu.Lock()
	e.phrases = append([]string(nil), phrases...)
	e.mu.Unlock()
}

// Start removes the existing primary profile and waits for the first
// phrase. It returns the generation that results must carry.
func (e *Enrollment) Start(ctx context.Context) (uint64, error) {
	p, err := e.profiles.PrimaryProfile(ctx)
	switch {
	case err == nil:
		if err := e.profiles.RemoveProfile(ctx, p.Name); err != nil {
			return 0, fmt.Errorf("speaker: enrollment: remove primary profile: %w", err)
		}
	case !errors.Is(err, memory.ErrNoProfile):
		return 0, fmt.Errorf("speaker: enrollment: load primary profile: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = e.phrases
	e.active = true
	e.step = 0
	e.gen++
	slog.Info("speaker: enrollment started", "phrases", len(e.script))
	return e.gen, nil
}

// Abort returns to idle. Results still in flight for the current generation
// are discarded. It reports whether an enrollment was running.
func (e *Enrollment) Abort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	was := e.active
	e.active = false
	e.step = 0
	e.gen++
	if was {
		slog.Info("speaker: enrollment aborted")
	}
	return was
}

// Active reports whether enrollment is running.
func (e *Enrollment) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Generation returns the current generation. Capture it before starting work
// on a segment and pass it to Enroll.
func (e *Enrollment) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// Step returns the index of the expected phrase and its text. The text is
// empty when idle.
func (e *Enrollment) Step() (int, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return e.step, ""
	}
	return e.step, e.script[e.step]
}

// Enroll scores text against the expected phrase. A similarity of at least
// [MinTextSimilarity] advances the flow and makes emb the primary profile.
// A degraded or quality-failed embedding is not stored; the step still
// advances and the outcome carries [MessageVoiceUnclear].
func (e *Enrollment) Enroll(ctx context.Context, gen uint64, text string, emb Embedding) EnrollmentOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || gen != e.gen {
		return EnrollmentOutcome{Kind: OutcomeDiscarded, Step: e.step}
	}

	phrase := e.script[e.step]
	sim := TextSimilarity(text, phrase)
	retry := EnrollmentOutcome{Kind: OutcomeRetry, Step: e.step, Phrase: phrase, Similarity: sim}
	if sim < MinTextSimilarity {
		retry.Message = MessagePhraseMismatch
		return retry
	}

	var msg string
	if emb.Usable() {
		err := e.profiles.AddProfile(ctx, memory.SpeakerProfile{
			Name:      e.profileName,
			Embedding: emb.Vector,
			ModelID:   e.modelID,
			Primary:   true,
		})
		if err != nil {
			slog.Warn("speaker: enrollment: store profile", "err", err)
			retry.Message = MessageStoreFailed
			return retry
		}
	} else {
		slog.Warn("speaker: enrollment: unusable embedding, step accepted without voiceprint", "step", e.step, "degraded", emb.Degraded)
		msg = MessageVoiceUnclear
	}

	e.step++
	if e.step == len(e.script) {
		total := len(e.script)
		e.active = false
		e.step = 0
		e.gen++
		slog.Info("speaker: enrollment completed")
		return EnrollmentOutcome{Kind: OutcomeCompleted, Step: total, Similarity: sim, Message: msg}
	}
	return EnrollmentOutcome{Kind: OutcomeStepAccepted, Step: e.step, Phrase: e.script[e.step], Similarity: sim, Message: msg}
}

// TextSimilarity is 1 - levenshtein/maxRuneLength over the case-folded,
// punctuation-free forms of a and b. Two empty strings are identical.
func TextSimilarity(a, b string) float64 {
	a, b = foldText(a), foldText(b)
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
}

func foldText(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

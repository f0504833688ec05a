package dialogue

import (
	"fmt"
	"strings"

	"github.com/ashureev/sparkpath/internal/domain"
)

// Completion budgets per call site.
const (
	greetingTokens    = 200
	followUpTokens    = 300
	analysisTokens    = 2000
	subcategoryTokens = 500
	rankingTokens     = 300
)

const (
	assessmentGreetingPrompt = "Welcome a young person who is starting a career assessment. " +
		"Ask what excites them most about the entertainment industry. Keep it short and friendly."
	wellnessGreetingPrompt = "Open a wellness check-in. Ask how they are feeling about their course " +
		"and their career path so far. Be warm and supportive."
)

func assessmentSystemPrompt(categories []string) string {
	var b strings.Builder
	b.WriteString("You are a friendly career counselor helping young people find their path in the entertainment industry.\n\n")
	b.WriteString("Over five to seven conversational questions, work out which of these categories fits them best:\n")
	writeBullets(&b, categories)
	b.WriteString(`
Guidelines:
1. Ask exactly one question per reply.
2. Stay warm, encouraging and conversational.
3. Build on what they said last.
4. Explore their interests, strengths and what energizes them.
5. Keep replies to two or three sentences.`)
	return b.String()
}

const wellnessSystemPrompt = `You are a supportive career counselor running a wellness check-in.

Find out:
1. How they feel about their current course
2. Whether their career path still feels right
3. Any challenges they are running into

The conversation will be classified as one of:
- HAPPY_WITH_PATH: keep going with the current course
- UNHAPPY_WITH_COURSE: meet a mentor and look at other subcategories
- UNHAPPY_WITH_CATEGORY: meet a career advisor for a reassessment

Be empathetic and encouraging.`

func nextQuestionPrompt(transcript []domain.Turn, questionNumber int) string {
	return fmt.Sprintf("Conversation so far:\n%s\n\nAsk question %d of 5-7. Build on their previous answer.",
		formatTranscript(transcript), questionNumber)
}

func wellnessFollowUpPrompt(transcript []domain.Turn) string {
	return fmt.Sprintf("Conversation:\n%s\n\nContinue the wellness check-in. Ask a follow-up that helps you understand how satisfied they are.",
		formatTranscript(transcript))
}

func categoryAnalysisPrompt(transcript []domain.Turn, categories []string) string {
	var b strings.Builder
	b.WriteString("Based on this conversation, decide which career category fits best:\n\n")
	b.WriteString(formatTranscript(transcript))
	b.WriteString("\n\nRecommend exactly ONE category from:\n")
	writeBullets(&b, categories)
	b.WriteString(`
Respond in exactly this format:
CATEGORY: [category name]
CONFIDENCE: [0-100]
REASONING: [brief explanation]`)
	return b.String()
}

func subcategoryPrompt(category string, transcript []domain.Turn, allowed []string) string {
	return fmt.Sprintf(`The user is interested in %s. Their answers were:
%s

From these subcategories, pick the 3-5 that best match their interests:
%s

Return ONLY a comma-separated list of subcategories with no explanation.`,
		category, strings.Join(userMessages(transcript), "\n"), strings.Join(allowed, ", "))
}

func wellnessAnalysisPrompt(transcript []domain.Turn) string {
	var b strings.Builder
	b.WriteString("Analyze this wellness check-in conversation:\n\n")
	b.WriteString(formatTranscript(transcript))
	b.WriteString("\n\nDecide the outcome:\n")
	for _, o := range domain.WellnessOutcomes {
		b.WriteString("- ")
		b.WriteString(string(o))
		b.WriteByte('\n')
	}
	b.WriteString(`
Format:
OUTCOME: [outcome]
REASONING: [brief explanation]
RECOMMENDATION: [specific next steps]`)
	return b.String()
}

func recommendationMessage(category, reasoning string, subcategories []string) string {
	return fmt.Sprintf("Based on our conversation, I recommend exploring **%s**!\n\n%s\n\n"+
		"Here are some specific roles that might interest you: %s.\n\nWhich of these sound most exciting to you?",
		category, reasoning, strings.Join(subcategories, ", "))
}

func storyRankingPrompt(profile *domain.User, stories []domain.Story) string {
	var b strings.Builder
	b.WriteString("Rank these success stories by relevance for a user with:\n")
	fmt.Fprintf(&b, "- Category: %s\n- Location: %s\n- Race: %s\n- Ethnicity: %s\n\nStories:\n",
		profile.Category, orUnknown(profile.Location), orUnknown(profile.Race), orUnknown(profile.Ethnicity))
	for i, s := range stories {
		fmt.Fprintf(&b, "%d. %s - %s - %s\n", i+1, s.Name, s.Category, orUnknown(s.Location))
	}
	b.WriteString("\nReturn ONLY comma-separated story numbers in order of relevance (for example \"3,1,5,2,4\").")
	return b.String()
}

func formatTranscript(turns []domain.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = string(t.Role) + ": " + t.Message
	}
	return strings.Join(lines, "\n")
}

func userMessages(turns []domain.Turn) []string {
	var out []string
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			out = append(out, t.Message)
		}
	}
	return out
}

func writeBullets(b *strings.Builder, items []string) {
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteByte('\n')
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

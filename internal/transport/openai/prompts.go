package openai

// Role names a generator's job in the pipeline. It labels metrics and logs.
type Role string

const (
	// RoleAnswer drafts the spoken answer from retrieved context.
	RoleAnswer Role = "answer"
	// RoleDirector turns an answer into delivery instructions for speech.
	RoleDirector Role = "director"
)

// DefaultAnswerPrompt instructs the answer generator.
const DefaultAnswerPrompt = `You are a helpful documentation assistant. Your task is to:
1. Analyze the provided documentation content.
2. Answer the user's question clearly and concisely.
3. Include relevant examples when available.
4. Cite the source files when referencing specific content.
5. Keep responses natural and conversational.
6. Format your response so it is easy to speak out loud.

Use only the provided documentation. If it does not contain the answer, say so plainly.`

// DefaultDirectorPrompt instructs the voice director.
const DefaultDirectorPrompt = `You are a voice director preparing a text answer for speech synthesis.
Given the answer, write short delivery instructions for the narrator covering:
- Voice affect and tone
- Pacing, with pauses before important points
- Emotion and emphasis for technical terms
- Pronunciation of acronyms, code identifiers and file names

Return only the instructions, not the answer itself.`

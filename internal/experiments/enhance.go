package experiments

import "strings"

// AnimationInstruction is appended to prompts flagged as animated.
const AnimationInstruction = "Make the SVG animated using CSS animations or SMIL elements such as <animate> and <animateTransform>."

// Enhance applies a variation template to a prompt.
//
// Every {prompt} placeholder in the template is replaced with the prompt text.
// A template without a placeholder keeps its text and the prompt is appended,
// so the prompt is never dropped. When animated is set the animation
// instruction is appended exactly once.
func Enhance(prompt string, v Variation, animated bool) string {
	var out string
	switch {
	case strings.Contains(v.Template, PromptPlaceholder):
		out = strings.ReplaceAll(v.Template, PromptPlaceholder, prompt)
	case strings.TrimSpace(v.Template) == "":
		out = prompt
	default:
		out = strings.TrimRight(v.Template, " \t\n") + "\n\n" + prompt
	}
	if animated {
		out += "\n\n" + AnimationInstruction
	}
	return out
}

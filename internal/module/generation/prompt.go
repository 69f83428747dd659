package generation

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrompt is used when no better prompt can be derived.
const DefaultPrompt = "A high-quality, photorealistic image of a person wearing an elaborate and creative cosplay costume, striking a dynamic pose against a vibrant, abstract background."

const fallbackPromptFormat = "A high-quality, photorealistic image of a person in an elaborate cosplay costume. The costume style is inspired by a character (theme: %s). The person is striking a dynamic pose against a vibrant, abstract background."

// Instruction is sent to the text model together with the person photo and
// the character reference, in that order.
const Instruction = `You are a creative assistant for a cosplay image generator.
Based on the first image (a person) and the second image (a character or style reference),
generate a detailed and imaginative text prompt that can be used by an image generation AI (like Imagen)
to create a new, high-quality photorealistic image.
Describe the costume, the hair style, hair color, the eye color and any other features of the character, and the facial feature and the pose of person.
Focus on creating a vivid and actionable prompt for an image generation model.
Output ONLY the generated prompt text, without any other conversational text or preambles.

# Prompt style
Generate image the person of the first image wearing a cosplay costume inspired by the second image.
The new image should depict a person, same to the person in the first image.
first_image_description:
  type: photograph
  gender: 
  subject:
    face_features:
      brows:
        shape: 
        thickness: 
        color: 
      eyes:
        shape: 
        color: 
        expression: 
      nose:
        bridge: 
        tip: 
        width: 
      mouth:
        lips: 
        expression: 
        corners: 
      face_shape: 
      skin_tone: 
    vibe: 
second_image_description:
  type: illustration
  gender: 
  costume:
    clothes:
      category: 
      color: 
      feature:
    accessories:
      category:
      feature:
  hair_style:
    bangs:
      style: 
      length: 
      movement: 
    side_hair:
      style: 
      length: 
      movement: 
    back_hair:
      style: 
      length: 
      movement: 
    overall_style: 
  hair_color:
    - color: 
    - palette_description: 
  eye_color:
    - color: 
    - palette_description: 
`

var fenceRe = regexp.MustCompile("(?s)^```(\\w*)?\\s*\\n?(.*?)\\n?\\s*```$")

// StripCodeFence removes a single enclosing ``` fence, with optional
// language tag, and trims the result.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[2])
	}
	return text
}

// FallbackPrompt builds the prompt used when the text model returned
// nothing. The theme is the character filename up to its first dot.
func FallbackPrompt(characterFilename string) string {
	stem, _, _ := strings.Cut(characterFilename, ".")
	if stem == "" {
		return DefaultPrompt
	}
	return fmt.Sprintf(fallbackPromptFormat, stem)
}

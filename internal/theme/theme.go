// Package theme holds the visual variants of the caption page. A theme only
// changes copy, colors and the floating background shapes; the page layout is
// the same for every theme.
package theme

import (
	"fmt"
	"sort"
	"strings"
)

// Palette is the set of colors a page is rendered with
type Palette struct {
	Background []string `json:"background"`
	Title      string   `json:"title"`
	Subtitle   string   `json:"subtitle"`
	Accent     string   `json:"accent"`
	AccentAlt  string   `json:"accent_alt"`
	Text       string   `json:"text"`
	Border     string   `json:"border"`
	Glow       string   `json:"glow"`
}

// Shape is one floating decoration
type Shape struct {
	Kind     string `json:"kind"`
	Color    string `json:"color"`
	Left     int    `json:"left"`     // percent of viewport width
	Duration int    `json:"duration"` // seconds per float cycle
}

// Theme is a named visual variant of the page
type Theme struct {
	Name           string  `json:"name"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	UploadLabel    string  `json:"upload_label"`
	ButtonLabel    string  `json:"button_label"`
	SpinnerText    string  `json:"spinner_text"`
	PreviewCaption string  `json:"preview_caption"`
	CaptionPrefix  string  `json:"caption_prefix"`
	Footer         string  `json:"footer"`
	Palette        Palette `json:"palette"`
	Shapes         []Shape `json:"shapes"`
}

const Default = "pastel"

var builtin = map[string]Theme{
	"pastel":   pastel(),
	"midnight": midnight(),
}

func common() Theme {
	return Theme{
		Title:          "🖼️ AI Image Caption Generator",
		Subtitle:       "Upload an image and let AI describe it beautifully ✨",
		UploadLabel:    "📤 Upload an Image",
		ButtonLabel:    "✨ Generate Caption",
		SpinnerText:    "AI is creating magic... 🤖✨",
		PreviewCaption: "✨ Uploaded Image ✨",
		CaptionPrefix:  "📸",
		Footer:         "Made with ❤️ using Go & AI",
	}
}

func pastel() Theme {
	t := common()
	t.Name = "pastel"
	t.Palette = Palette{
		Background: []string{"#fde2e4", "#e0f7fa", "#f3e5f5", "#fffde7"},
		Title:      "#6a1b9a",
		Subtitle:   "#4a148c",
		Accent:     "#ce93d8",
		AccentAlt:  "#81d4fa",
		Text:       "#4a148c",
		Border:     "#ba68c8",
		Glow:       "rgba(186,104,200,0.6)",
	}
	t.Shapes = []Shape{
		{Kind: "diamond", Color: "#ce93d8", Left: 10, Duration: 10},
		{Kind: "ball", Color: "#81d4fa", Left: 25, Duration: 14},
		{Kind: "cloud", Color: "#ffffff", Left: 40, Duration: 12},
		{Kind: "drop", Color: "#80deea", Left: 60, Duration: 16},
		{Kind: "diamond", Color: "#ce93d8", Left: 75, Duration: 11},
		{Kind: "ball", Color: "#81d4fa", Left: 90, Duration: 13},
	}
	return t
}

func midnight() Theme {
	t := common()
	t.Name = "midnight"
	t.Subtitle = "Drop a picture into the night and let AI tell its story 🌙"
	t.SpinnerText = "AI is dreaming up words... 🤖🌙"
	t.Palette = Palette{
		Background: []string{"#0f0c29", "#302b63", "#24243e", "#1a1a2e"},
		Title:      "#e1bee7",
		Subtitle:   "#b39ddb",
		Accent:     "#7e57c2",
		AccentAlt:  "#26c6da",
		Text:       "#ede7f6",
		Border:     "#9575cd",
		Glow:       "rgba(126,87,194,0.7)",
	}
	t.Shapes = []Shape{
		{Kind: "star", Color: "#fff59d", Left: 8, Duration: 12},
		{Kind: "moon", Color: "#fffde7", Left: 22, Duration: 18},
		{Kind: "ring", Color: "#26c6da", Left: 38, Duration: 14},
		{Kind: "star", Color: "#fff59d", Left: 55, Duration: 10},
		{Kind: "ring", Color: "#7e57c2", Left: 72, Duration: 16},
		{Kind: "moon", Color: "#fffde7", Left: 88, Duration: 13},
	}
	return t
}

// Lookup returns a copy of the named built-in theme. An empty name selects
// the default theme.
func Lookup(name string) (Theme, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default
	}
	t, ok := builtin[name]
	if !ok {
		return Theme{}, fmt.Errorf("unknown theme %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	t.Palette.Background = append([]string(nil), t.Palette.Background...)
	t.Shapes = append([]Shape(nil), t.Shapes...)
	return t, nil
}

// Names lists the built-in themes in sorted order
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Gradient renders the background colors as a CSS gradient stop list
func (t Theme) Gradient() string {
	return strings.Join(t.Palette.Background, ", ")
}

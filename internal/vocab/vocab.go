// Package vocab provides the built-in tag vocabularies and the custom
// adjective list used to enrich caption candidates.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Set is an unordered collection of tags.
type Set map[string]struct{}

// NewSet builds a Set from the given tags.
func NewSet(tags ...string) Set {
	s := make(Set, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether tag is in the set.
func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Union returns a new set holding the tags of s and every other set.
func (s Set) Union(others ...Set) Set {
	out := make(Set, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	for _, o := range others {
		for t := range o {
			out[t] = struct{}{}
		}
	}
	return out
}

// AppearanceTags describe a character's body rather than what they wear.
var AppearanceTags = NewSet(
	"long hair", "breasts", "short hair", "blue eyes", "large breasts", "blonde hair",
	"brown hair", "black hair", "hair ornament", "red eyes", "hat", "bow", "animal ears",
	"ribbon", "hair between eyes", "jewelry", "very long hair", "twintails", "medium breasts",
	"brown eyes", "green eyes", "blue hair", "purple eyes", "tail", "yellow eyes", "white hair",
	"pink hair", "grey hair", "ahoge", "braid",
)

// ClothingTags describe outfits and worn accessories.
var ClothingTags = NewSet(
	"shirt", "skirt", "long sleeves", "hair ornament", "gloves", "dress", "thighhighs", "hat",
	"bow", "navel", "ribbon", "cleavage", "jewelry", "bare shoulders", "underwear", "jacket",
	"school uniform", "collarbone", "white shirt", "panties", "swimsuit", "hair ribbon",
	"short sleeves", "hair bow", "pantyhose", "earrings", "bikini", "pleated skirt", "frills",
	"hairband", "boots", "open clothes", "necktie", "detached sleeves", "shorts",
	"japanese clothes", "shoes", "sleeveless", "black gloves", "alternate costume",
	"collared shirt", "choker", "barefoot", "socks", "glasses", "pants", "serafuku",
	"puffy sleeves", "hairclip", "belt", "black thighhighs", "elbow gloves", "midriff",
	"white gloves", "bowtie", "hood", "black skirt", "hair flower", "official alternate costume",
	"wide sleeves", "miniskirt", "fingerless gloves", "black footwear", "kimono", "white dress",
	"holding weapon", "off shoulder", "necklace", "striped clothes", "nail polish", "bag",
	"black dress", "scarf", "cape", "white thighhighs", "bra", "armor", "vest", "open jacket",
	"halo", "apron", "red bow", "white panties", "leotard", "coat", "black jacket", "high heels",
	"collar", "sweater", "bracelet", "uniform", "red ribbon", "crop top", "black shirt",
	"puffy short sleeves", "blue skirt", "black pantyhose", "neckerchief", "sleeves past wrists",
	"fur trim", "see-through", "wrist cuffs", "maid", "strapless", "zettai ryouiki",
	"clothing cutout", "black headwear", "plaid", "torn clothes", "one-piece swimsuit", "sash",
	"maid headdress", "sleeveless shirt", "short shorts", "bare arms", "sleeveless dress", "ascot",
	"black panties", "cosplay", "kneehighs", "bare legs", "thigh strap", "black bow",
	"covered navel", "hoodie", "neck ribbon", "black ribbon", "detached collar", "tattoo",
	"black choker", "dress shirt", "buttons", "open shirt", "sideboob", "bell", "military",
	"mask", "skindentation", "capelet", "bodysuit", "blue dress", "black pants", "no bra",
	"black bikini", "white headwear", "red skirt",
)

// NudityTags mark states of undress.
var NudityTags = NewSet(
	"completely nude", "nude", "no pants", "no bra", "no panties", "no shirt", "topless",
	"bottomless", "underwear only", "breasts out", "areola slip", "nipple slip", "nipples",
	"midriff", "navel", "anus", "pussy", "penis", "ass", "breasts", "cleavage", "swimsuit",
	"thighs",
)

// OrnamentTags are small accessories worth keeping next to a cluster name.
var OrnamentTags = NewSet(
	"hair ornament", "hat", "bow", "ribbon", "jewelry", "hair ribbon", "hair bow", "earrings",
	"frills", "hairband", "choker", "hairclip", "bowtie", "hood", "hair flower", "necklace",
	"halo", "red ribbon", "black headwear", "black choker", "white headwear", "blue bow",
	"witch hat", "blush stickers", "headgear", "black hairband", "eyepatch", "scrunchie",
	"white bow", "mob cap", "helmet", "feathers",
)

// HoldingTags describe held objects.
var HoldingTags = NewSet(
	"holding", "holding weapon", "holding hands", "holding sword", "holding food", "holding gun",
	"holding cup", "holding phone", "holding book", "holding umbrella", "holding staff",
	"holding clothes", "holding flower", "holding knife", "holding bag", "holding bottle",
	"holding poke ball", "holding tray", "holding fan", "holding polearm", "holding microphone",
	"holding animal", "holding instrument", "holding hair", "holding bouquet", "holding gift",
	"holding stuffed toy", "holding another's wrist", "holding plate", "holding fruit",
	"holding chopsticks", "holding spoon", "holding bow (weapon)", "holding fork", "holding card",
	"holding can", "holding cigarette", "holding wand", "holding hat", "holding candy",
	"holding paper", "holding ball", "holding removed eyewear", "holding pen", "holding camera",
	"holding strap", "holding broom", "holding shield", "holding bowl", "holding lollipop",
	"holding towel", "holding own arm", "holding box", "holding mask", "holding scythe",
	"holding pom poms", "holding axe", "holding pokemon", "holding another's arm",
	"holding dagger", "holding drink", "holding smoking pipe", "holding flag", "holding arrow",
	"holding controller", "holding doll", "holding sheath", "holding basket", "holding leash",
	"holding hammer", "holding sign", "holding sack", "holding cat", "holding paintbrush",
	"holding handheld game console", "holding clipboard", "holding syringe", "holding pencil",
)

// CharacterFeatureTags identify a specific character rather than a scene. The
// caption pipeline counts them per folder so frequent ones can be dropped.
var CharacterFeatureTags = NewSet(
	"long hair", "short hair", "blue eyes", "large breasts", "blonde hair", "brown hair",
	"black hair", "hair ornament", "red eyes", "hat", "bow", "animal ears", "ribbon",
	"hair between eyes", "very long hair", "twintails", "medium breasts", "brown eyes",
	"green eyes", "blue hair", "purple eyes", "tail", "yellow eyes", "white hair", "pink hair",
	"grey hair", "ahoge", "braid", "hair ribbon", "purple hair", "ponytail", "multicolored hair",
	"sidelocks", "hair bow", "earrings", "red hair", "small breasts", "hairband", "horns",
	"wings", "green hair", "glasses", "pointy ears", "hairclip", "medium hair", "fang",
	"dark skin", "cat ears", "blunt bangs", "hair flower", "pink eyes", "hair bun", "mole",
	"hair over one eye", "rabbit ears", "orange hair", "black eyes", "two-tone hair",
	"streaked hair", "huge breasts", "halo", "red bow", "twin braids", "side ponytail",
	"animal ear fluff", "red ribbon", "aqua eyes", "dark-skinned female", "parted bangs",
	"two side up", "v-shaped eyebrows", "grey eyes", "orange eyes", "cat tail",
	"symbol-shaped pupils", "eyelashes", "lips", "black headwear", "mole under eye", "fox ears",
	"maid headdress", "shiny skin", "fake animal ears", "black bow", "single braid",
	"neck ribbon", "black ribbon", "gradient hair", "double bun", "floating hair", "aqua hair",
	"colored skin", "swept bangs", "facial hair", "heterochromia", "white headwear", "blue bow",
	"fox tail", "witch hat", "low twintails", "one side up", "headband", "horse ears", "beret",
	"wavy hair", "fangs", "headphones", "hair intakes", "facial mark", "thick eyebrows",
	"bob cut", "drill hair", "sunglasses", "light brown hair", "wolf ears", "black hairband",
	"eyepatch", "scrunchie", "white bow", "mob cap", "eyes visible through hair", "demon horns",
	"single hair bun", "high ponytail", "x hair ornament", "blue ribbon", "antenna hair",
	"hat ribbon", "crown", "pink bow", "spiked hair", "bat wings", "ear piercing", "slit pupils",
	"bright pupils", "rabbit tail", "tassel", "head wings", "short twintails", "messy hair",
	"straight hair", "feathered wings", "hat bow", "multiple tails", "demon tail", "dog ears",
	"pale skin", "white ribbon", "colored inner hair", "hair over shoulder", "side braid",
	"freckles", "low ponytail", "twin drills", "wolf tail", "french braid", "crossed bangs",
	"half updo", "demon wings", "single earring", "low-tied long hair",
)

// NotSceneTags are removed before scene-level grouping.
var NotSceneTags = AppearanceTags.Union(ClothingTags)

// KeepTags survive next to the cluster name when sidecars are rewritten.
var KeepTags = NudityTags.Union(OrnamentTags, HoldingTags)

// Adjectives is the built-in pool of descriptive words offered to the label
// selector on top of the tagger output.
var Adjectives = []string{
	"friendly", "charismatic", "honest", "calm", "independent", "optimistic", "generous",
	"lively", "disciplined", "compassionate", "hardworking", "innovative", "ambitious", "bold",
	"creative", "outgoing", "humble", "selfless", "practical", "enthusiastic", "dependable",
	"reliable", "easygoing", "assertive", "responsible", "considerate", "cheerful", "rational",
	"analytical", "insightful", "open-minded", "extroverted", "intelligent", "confident",
	"amiable", "flexible", "conscientious", "authentic", "fair", "self-confident", "skilled",
	"gracious", "diligent", "positive", "charming", "resourceful", "professional", "passionate",
	"coherent", "logical", "empathetic", "curious", "immature", "candid", "patient", "genuine",
	"kind", "loyal", "persistent", "athletic", "brave", "average", "sociable", "decisive",
	"determined", "adaptable", "talented", "energetic", "understanding", "forgiving",
	"perceptive", "tolerant", "versatile", "caring", "fearless", "trustworthy", "persevering",
	"consistent", "witty", "persuasive", "sensational", "engaging", "astute", "self-disciplined",
	"sincere", "thoughtful", "wise", "active", "adventurous", "diplomatic", "gregarious",
	"impolite", "imaginative", "discreet", "circumspect", "neat", "polite", "mature",
	"sympathetic", "motivated", "popular", "lucky", "loving", "nice", "gentle", "posh", "secure",
	"good", "helpful", "funny", "intuitive", "willing", "powerful", "realistic", "inspiring",
	"plucky", "affable", "communicative", "composed", "dynamic", "amusing", "adorable",
	"aggressive", "angry", "anxious", "arrogant", "bashful", "beautiful", "bizarre", "bright",
	"cute", "dark", "delicate", "elegant", "embarrassed", "gloomy", "gorgeous", "graceful",
	"grumpy", "happy", "innocent", "lonely", "majestic", "melancholic", "mischievous",
	"mysterious", "nervous", "peaceful", "pensive", "playful", "proud", "serene", "serious",
	"shy", "sleepy", "smug", "stoic", "sultry", "sweet", "tender", "timid", "vibrant", "whimsical",
	"wistful", "youthful", "sexy",
}

// ClusterKeepPatterns mark structural tags (framing, media, text, censoring)
// that are kept verbatim by the cluster pipeline instead of being grouped.
var ClusterKeepPatterns = compile(
	`^.*from_.*$`, `^.*focus.*$`, `^anime.*$`, `^monochrome$`, `^.*background$`, `^comic$`,
	`^.*censor.*$`, `^.*_name$`, `^signature$`, `^.*_username$`, `^.*text.*$`,
	`^.*_bubble$`, `^multiple_views$`, `^.*blurry.*$`, `^.*koma$`, `^watermark$`,
	`^traditional_media$`, `^parody$`, `^.*cover$`, `^.*_theme$`, `^realistic$`,
	`^oekaki$`, `^3d$`, `^.*chart$`, `^letterboxed$`, `^variations$`, `^.*mosaic.*$`,
	`^omake$`, `^column.*$`, `^.*_\(medium\)$`, `^manga$`, `^lineart$`, `^.*logo$`, `^greyscale$`,
	`^.*photorealistic.*$`, `^tegaki$`, `^sketch$`, `^silhouette$`, `^web_address$`, `^.*border$`,
	`^.*photo.*$`, `^.*full_body.*$`,
)

// CaptionKeepPatterns extend the structural list with camera angle and
// framing tags for the caption pipeline.
var CaptionKeepPatterns = compile(
	`^anime.*$`, `^monochrome$`, `^.*background$`, `^comic$`, `^greyscale$`, `^sketch$`,
	`^.*censor.*$`, `^.*_name$`, `^signature$`, `^.*_username$`, `^.*text.*$`,
	`^.*_bubble$`, `^multiple_views$`, `^.*blurry.*$`, `^.*koma$`, `^watermark$`,
	`^traditional_media$`, `^parody$`, `^.*cover$`, `^.*_theme$`, `^.*realistic$`,
	`^oekaki$`, `^3d$`, `^.*chart$`, `^letterboxed$`, `^variations$`, `^.*mosaic.*$`,
	`^omake$`, `^column.*$`, `^.*_\(medium\)$`, `^manga$`, `^lineart$`, `^.*logo$`,
	`^(from_side|from_behind|from_above|from_below)$`,
	`^(close_up|dutch_angle|downblouse|downpants|pantyshot|upskirt|atmospheric_perspective|fisheye|panorama|perspective|pov|rotated|sideways|upside_down|vanishing_point|straight-on)$`,
	`^(face|cowboy_shot|portrait|upper_body|lower_body|feet_out_of_frame|full_body|wide_shot|very_wide_shot|cut_in|cropped_legs|head_out_of_frame|cropped_torso|cropped_arms|cropped_shoulders|profile|group_profile)$`,
	`^(armpit_focus|ass_focus|back_focus|breast_focus|eye_focus|foot_focus|hand_focus|hip_focus|navel_focus|pectoral_focus|thigh_focus|soft_focus|solo_focus)$`,
)

// NSFWPatterns flag explicit tag strings (case-insensitive search).
var NSFWPatterns = compile(
	`(?i).*nude.*$`, `(?i).*penis.*$`, `(?i).*nipple.*$`, `(?i).*anus.*$`, `(?i).*sex.*$`,
)

// ColorWords are substrings that mark a tag as color-bearing.
var ColorWords = []string{
	"red", "orange", "yellow", "green", "blue", "aqua", "purple", "brown", "pink", "black",
	"white", "grey", "dark-", "light ", "pale", "blonde",
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// configPath returns the path to the user's custom adjective file.
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tagsort", "adjectives.txt"), nil
}

// LoadAdjectives reads adjectives from ~/.tagsort/adjectives.txt.
// Returns nil if the file does not exist.
func LoadAdjectives() ([]string, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open adjectives file: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			words = append(words, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading adjectives file: %w", err)
	}

	return words, nil
}

// ResolveAdjectives returns the adjective pool to rank against each image.
// Priority: CLI flag > custom file > built-in list.
func ResolveAdjectives(cli []string) ([]string, error) {
	if len(cli) > 0 {
		return cli, nil
	}

	custom, err := LoadAdjectives()
	if err != nil {
		return nil, err
	}
	if len(custom) > 0 {
		return custom, nil
	}

	return Adjectives, nil
}

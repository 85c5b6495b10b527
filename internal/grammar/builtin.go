package grammar

import "sync"

const jsonSource = `
root   ::= object
value  ::= object | array | string | number | ("true" | "false" | "null") ws

object ::=
  "{" ws (
            string ":" ws value
    ("," ws string ":" ws value)*
  )? "}" ws

array  ::=
  "[" ws (
            value
    ("," ws value)*
  )? "]" ws

string ::=
  "\"" (
    [^"\\] |
    "\\" (["\\/bfnrt] | "u" [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F]) # escapes
  )* "\"" ws

number ::= ("-"? ([0-9] | [1-9] [0-9]*)) ("." [0-9]+)? ([eE] [-+]? [0-9]+)? ws

# Optional space: applied after literal chars when allowed
ws ::= ([ \t\n] ws)?
`

const japaneseChatSource = `
root          ::= japanese-chat+
japanese-chat ::= ai-message | user-message | "\n"
ai-message    ::= "Alan:" message
user-message  ::= "User:" message
message       ::= jp-char+ ([ \t\n] jp-char+)*
jp-char       ::= hiragana | katakana | punctuation | cjk
hiragana      ::= [ぁ-ゟ]
katakana      ::= [ァ-ヿ]
punctuation   ::= [、-〾]
cjk           ::= [一-鿿]
`

var (
	jsonOnce     = sync.OnceValue(func() *Grammar { return MustParse(jsonSource) })
	japaneseOnce = sync.OnceValue(func() *Grammar { return MustParse(japaneseChatSource) })
)

// JSON returns a grammar for a single JSON object followed by optional
// whitespace.
func JSON() *Grammar { return jsonOnce() }

// JapaneseChat returns a grammar for "User:" and "Alan:" lines written in
// hiragana, katakana, CJK ideographs and Japanese punctuation.
func JapaneseChat() *Grammar { return japaneseOnce() }

// Builtin returns a built-in grammar by name: "json" or "japanese-chat".
func Builtin(name string) (*Grammar, bool) {
	switch name {
	case "json":
		return JSON(), true
	case "japanese-chat", "japanese_chat":
		return JapaneseChat(), true
	}
	return nil, false
}

// BuiltinNames lists the names accepted by Builtin.
func BuiltinNames() []string { return []string{"json", "japanese-chat"} }

// Package fingerprint derives stable content hashes for candidate code so
// that audits can be memoized. Two thoughts that differ only in whitespace
// or comments produce the same fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// EmptyFingerprint is the hash of a thought with no code content (SHA-256
// of the empty string). Storing under it is permitted but validators flag
// such entries.
const EmptyFingerprint = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

var (
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// Block is one fenced code block with its language tag ("" when untagged).
type Block struct {
	Lang string
	Body string
}

// Blocks scans text for fenced code blocks and returns them in source
// order. An unterminated final fence is treated as running to end of text.
func Blocks(text string) []Block {
	var blocks []Block
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]

		lang := ""
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			lang = strings.TrimSpace(rest[:nl])
			rest = rest[nl+1:]
		} else {
			// Fence opened at end of text with no body.
			break
		}

		end := strings.Index(rest, "```")
		if end < 0 {
			blocks = append(blocks, Block{Lang: lang, Body: rest})
			break
		}
		blocks = append(blocks, Block{Lang: lang, Body: rest[:end]})
		rest = rest[end+3:]
	}
	return blocks
}

// ExtractCodeBlocks returns the bodies of all fenced code blocks in text.
func ExtractCodeBlocks(text string) []string {
	blocks := Blocks(text)
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Body
	}
	return out
}

// Normalize reduces thought text to its semantic code content: fenced
// blocks concatenated in source order (the whole text when there are none),
// comments stripped, whitespace collapsed. Case is preserved because
// identifiers are case-sensitive.
func Normalize(text string) string {
	code := text
	if bodies := ExtractCodeBlocks(text); len(bodies) > 0 {
		code = strings.Join(bodies, "\n")
	}
	code = blockCommentRe.ReplaceAllString(code, " ")
	code = lineCommentRe.ReplaceAllString(code, " ")
	code = whitespaceRe.ReplaceAllString(code, " ")
	return strings.TrimSpace(code)
}

// Fingerprint hashes the normalized content of text to a hex string.
// Deterministic across runs and processes.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

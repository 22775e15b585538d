package llm

import "testing"

type sample struct {
	Token string `json:"token"`
}

func TestDecodeJSONFencedBlocks(t *testing.T) {
	raw := "Here you go:\n```json\n{\"token\":\"usdt\"}\n```\nthanks"
	value, ok := DecodeJSON[sample](raw).Get()
	if !ok || value.Token != "usdt" {
		t.Fatalf("expected fenced json to parse, got %+v ok=%v", value, ok)
	}

	generic := "```\n[{\"token\":\"eth\"}]\n```"
	list, ok := DecodeJSON[[]sample](generic).Get()
	if !ok || len(list) != 1 || list[0].Token != "eth" {
		t.Fatalf("expected generic fence to parse, got %+v", list)
	}
}

func TestDecodeJSONWholeText(t *testing.T) {
	if v, ok := DecodeJSON[sample](`  {"token":"btc"} `).Get(); !ok || v.Token != "btc" {
		t.Fatalf("expected whole text to parse")
	}
}

func TestDecodeJSONBareObjectFallback(t *testing.T) {
	raw := `I pick {"token":"dai"} because it is stable.`

	result := DecodeJSON[sample](raw)
	if result.IsParsed() {
		t.Fatalf("bare object should not parse without the fallback")
	}
	if result.Raw() != raw || result.Reason() == "" {
		t.Fatalf("malformed result should keep raw text and reason")
	}

	v, ok := DecodeJSON[sample](raw, WithBareObjectFallback()).Get()
	if !ok || v.Token != "dai" {
		t.Fatalf("expected bare object fallback to parse, got %+v", v)
	}
}

func TestDecodeJSONEmpty(t *testing.T) {
	if DecodeJSON[sample]("   ").IsParsed() {
		t.Fatalf("empty output must be malformed")
	}
}

package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// --- getStringAttr Tests ---

func TestGetStringAttr_ExistingString(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"updated_at": events.NewStringAttribute("2024-01-01T00:00:00Z"),
	}

	result := getStringAttr(image, "updated_at")
	if result != "2024-01-01T00:00:00Z" {
		t.Errorf("expected timestamp, got %q", result)
	}
}

func TestGetStringAttr_MissingKey(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"other": events.NewStringAttribute("value"),
	}

	result := getStringAttr(image, "updated_at")
	if result != "" {
		t.Errorf("expected empty string for missing key, got %q", result)
	}
}

func TestGetStringAttr_NilImage(t *testing.T) {
	var image map[string]events.DynamoDBAttributeValue

	result := getStringAttr(image, "updated_at")
	if result != "" {
		t.Errorf("expected empty string for nil image, got %q", result)
	}
}

func TestGetStringAttr_NumberAttribute(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"updated_at": events.NewNumberAttribute("42"),
	}

	result := getStringAttr(image, "updated_at")
	if result != "" {
		t.Errorf("expected empty string for number attribute, got %q", result)
	}
}

// --- getNumberAttr Tests ---

func TestGetNumberAttr_ValidNumber(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"version": events.NewNumberAttribute("7"),
	}

	result := getNumberAttr(image, "version")
	if result != 7 {
		t.Errorf("expected 7, got %d", result)
	}
}

func TestGetNumberAttr_MissingKey(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{}

	result := getNumberAttr(image, "version")
	if result != 0 {
		t.Errorf("expected 0 for missing key, got %d", result)
	}
}

func TestGetNumberAttr_StringAttribute(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"version": events.NewStringAttribute("7"),
	}

	result := getNumberAttr(image, "version")
	if result != 0 {
		t.Errorf("expected 0 for string attribute, got %d", result)
	}
}

// --- getBinaryAttr Tests ---

func TestGetBinaryAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"id":   events.NewBinaryAttribute([]byte{0xab, 0xcd}),
		"name": events.NewStringAttribute("x"),
	}

	if got := getBinaryAttr(image, "id"); string(got) != "\xab\xcd" {
		t.Errorf("expected id bytes, got %x", got)
	}
	if got := getBinaryAttr(image, "name"); got != nil {
		t.Errorf("expected nil for string attribute, got %x", got)
	}
	if got := getBinaryAttr(image, "missing"); got != nil {
		t.Errorf("expected nil for missing key, got %x", got)
	}
}

// --- tableFromARN Tests ---

func TestTableFromARN(t *testing.T) {
	tests := []struct {
		arn      string
		expected string
	}{
		{"arn:aws:dynamodb:eu-west-1:123456789012:table/scarecrow_entities/stream/2024-01-01T00:00:00.000", "scarecrow_entities"},
		{"arn:aws:dynamodb:us-east-1:123456789012:table/a.b-c/stream/label", "a.b-c"},
		{"arn:aws:dynamodb:us-east-1:123456789012:table/plain", "plain"},
		{"", ""},
		{"arn:aws:kinesis:us-east-1:123456789012:stream/x", ""},
	}

	for _, tt := range tests {
		if got := tableFromARN(tt.arn); got != tt.expected {
			t.Errorf("tableFromARN(%q) = %q, want %q", tt.arn, got, tt.expected)
		}
	}
}

// --- convert Tests ---

func TestConvert_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   events.DynamoDBAttributeValue
		want string
	}{
		{"string", events.NewStringAttribute("s"), "*types.AttributeValueMemberS"},
		{"number", events.NewNumberAttribute("1"), "*types.AttributeValueMemberN"},
		{"binary", events.NewBinaryAttribute([]byte{1}), "*types.AttributeValueMemberB"},
		{"bool", events.NewBooleanAttribute(true), "*types.AttributeValueMemberBOOL"},
		{"null", events.NewNullAttribute(), "*types.AttributeValueMemberNULL"},
		{"string set", events.NewStringSetAttribute([]string{"a"}), "*types.AttributeValueMemberSS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convert(tt.in)
			if got == nil {
				t.Fatal("expected non-nil attribute value")
			}
			if name := typeName(got); name != tt.want {
				t.Errorf("expected %s, got %s", tt.want, name)
			}
		})
	}
}

func TestConvert_Nested(t *testing.T) {
	in := events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
		"color": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"pk": events.NewStringAttribute("00"),
			"sk": events.NewBinaryAttribute([]byte{1, 2, 3}),
		}),
		"tags": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("a"),
			events.NewNumberAttribute("2"),
		}),
	})

	m, ok := convert(in).(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("expected map, got %T", convert(in))
	}
	color, ok := m.Value["color"].(*types.AttributeValueMemberM)
	if !ok {
		t.Fatalf("expected nested map, got %T", m.Value["color"])
	}
	if sk, ok := color.Value["sk"].(*types.AttributeValueMemberB); !ok || string(sk.Value) != "\x01\x02\x03" {
		t.Errorf("unexpected sk %#v", color.Value["sk"])
	}
	tags, ok := m.Value["tags"].(*types.AttributeValueMemberL)
	if !ok || len(tags.Value) != 2 {
		t.Fatalf("expected 2-element list, got %#v", m.Value["tags"])
	}
}

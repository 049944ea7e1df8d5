package codec

import (
	"testing"

	"fxgateway/models"
)

func TestEncodeDecodeBar(t *testing.T) {
	in := models.Bar{
		Instrument: "EUR/USD",
		Period:     "1Min",
		Time:       1700000000000,
		Open:       1.0921,
		Close:      1.0925,
		Low:        1.0919,
		High:       1.0927,
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var out models.Bar
	if err := Decode(data, &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestDecodeMalformed(t *testing.T) {
	var out models.Tick
	if err := Decode([]byte{0xc1, 0xff, 0x00}, &out); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
	if err := Decode(nil, &out); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

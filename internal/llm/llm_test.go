package llm

import (
	"testing"
)

func TestParseBiasResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "bare json",
			raw:  `{"indicators": {"framing": "escalatory"}, "blind_spots": ["diplomatic track"], "confidence_score": 0.85}`,
		},
		{
			name: "fenced json",
			raw: "```json\n" +
				`{"indicators": {"framing": "escalatory"}, "blind_spots": ["diplomatic track"], "confidence_score": 0.85}` +
				"\n```",
		},
		{
			name: "json with preamble",
			raw: "Here is the analysis you asked for:\n" +
				`{"indicators": {"framing": "escalatory"}, "blind_spots": ["diplomatic track"], "confidence_score": 0.85}`,
		},
		{
			name:    "no json",
			raw:     "I cannot analyze this content.",
			wantErr: true,
		},
		{
			name:    "truncated json",
			raw:     `{"indicators": {"framing":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := parseBiasResponse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.Indicators["framing"] != "escalatory" {
				t.Errorf("indicators = %v", report.Indicators)
			}
			if len(report.BlindSpots) != 1 || report.BlindSpots[0] != "diplomatic track" {
				t.Errorf("blind spots = %v", report.BlindSpots)
			}
			if report.Confidence != 0.85 {
				t.Errorf("confidence = %f", report.Confidence)
			}
		})
	}
}

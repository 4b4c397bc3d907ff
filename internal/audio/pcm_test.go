package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestBytesToSamples_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 1000, -1000, math.MaxInt16, math.MinInt16}

	data := SamplesToBytes(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(samples)*2, len(data))
	}

	got, err := BytesToSamples(data)
	if err != nil {
		t.Fatalf("BytesToSamples() failed: %v", err)
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	if _, err := BytesToSamples([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Error("Expected error for odd length PCM data")
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 480) // 20ms at 24kHz
	for i := range samples {
		samples[i] = int16(i)
	}

	out := Resample(samples, 24000, 8000)
	if len(out) != 160 {
		t.Errorf("Expected 160 samples, got %d", len(out))
	}

	same := Resample(samples, 16000, 16000)
	if len(same) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(same))
	}

	up := Resample(samples[:10], 8000, 16000)
	if len(up) != 20 {
		t.Errorf("Expected 20 samples after upsampling, got %d", len(up))
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected 0 RMS for no samples, got %f", rms)
	}

	samples := []int16{3, -3, 3, -3}
	if rms := CalculateRMS(samples); math.Abs(rms-3.0) > 1e-9 {
		t.Errorf("Expected RMS 3.0, got %f", rms)
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := SamplesToBytes([]int16{1, 2, 3, 4})

	wav, err := EncodeWAV(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() failed: %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if !IsWAV(wav) {
		t.Error("Expected RIFF/WAVE header")
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("Expected data chunk at offset 36, got %q", wav[36:40])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("Expected data size %d, got %d", len(pcm), size)
	}
}

func TestEncodeWAV_Invalid(t *testing.T) {
	if _, err := EncodeWAV([]byte{0, 0}, 0, 1); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]byte{0}, 16000, 1); err == nil {
		t.Error("Expected error for odd PCM length")
	}
	if IsWAV([]byte("RIFF")) {
		t.Error("Expected short data not to be WAV")
	}
}

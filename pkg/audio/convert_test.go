package audio_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

func TestBytesSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	if !slices.Equal(got, in) {
		t.Fatalf("got %v, want %v", got, in)
	}
}

func TestBytesToSamples_OddLength(t *testing.T) {
	got := audio.BytesToSamples([]byte{0x01, 0x00, 0xff})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}

func TestMonoToStereo(t *testing.T) {
	got := audio.MonoToStereo([]int16{100, 200, 300})
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	got := audio.StereoToMono([]int16{100, 200, -100, -200, 32767, 32767})
	want := []int16{150, -150, 32767}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResampleMono(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		in := []int16{1, 2, 3}
		if got := audio.ResampleMono(in, 16000, 16000); !slices.Equal(got, in) {
			t.Errorf("got %v, want input unchanged", got)
		}
	})
	t.Run("downsample halves length", func(t *testing.T) {
		in := make([]int16, 480)
		if got := audio.ResampleMono(in, 48000, 16000); len(got) != 160 {
			t.Errorf("len = %d, want 160", len(got))
		}
	})
	t.Run("upsample interpolates", func(t *testing.T) {
		got := audio.ResampleMono([]int16{0, 100}, 8000, 16000)
		want := []int16{0, 50, 100, 100}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
	t.Run("invalid rate", func(t *testing.T) {
		in := []int16{1, 2}
		if got := audio.ResampleMono(in, 0, 16000); !slices.Equal(got, in) {
			t.Errorf("got %v, want input unchanged", got)
		}
	})
}

func TestFramer(t *testing.T) {
	f := audio.NewFramer(4)

	if got := f.Push([]int16{1, 2, 3}); len(got) != 0 {
		t.Fatalf("expected no complete frame, got %d", len(got))
	}
	got := f.Push([]int16{4, 5, 6, 7, 8, 9})
	if len(got) != 2 {
		t.Fatalf("frames = %d, want 2", len(got))
	}
	if !slices.Equal(got[0], audio.Frame{1, 2, 3, 4}) || !slices.Equal(got[1], audio.Frame{5, 6, 7, 8}) {
		t.Errorf("unexpected frames %v", got)
	}

	tail := f.Flush()
	if !slices.Equal(tail, audio.Frame{9, 0, 0, 0}) {
		t.Errorf("flush = %v, want [9 0 0 0]", tail)
	}
	if f.Flush() != nil {
		t.Error("second flush should return nil")
	}
}

func TestEnergy(t *testing.T) {
	if got := audio.Energy(nil); got != 0 {
		t.Errorf("Energy(nil) = %v, want 0", got)
	}
	if got := audio.Energy([]int16{800, -800, 800, -800}); got != 800 {
		t.Errorf("Energy = %v, want 800", got)
	}
}

func TestFormatFrameDuration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, FrameSize: 320}
	if got := f.FrameDuration().Milliseconds(); got != 20 {
		t.Errorf("FrameDuration = %dms, want 20", got)
	}
}

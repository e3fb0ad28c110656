package tts

import "testing"

func TestSetRateClampsToBounds(t *testing.T) {
	a := &Adapter{}
	a.SetRate(10)
	if a.rateWPM != minRateWPM {
		t.Fatalf("rate = %d, want %d", a.rateWPM, minRateWPM)
	}
	a.SetRate(1000)
	if a.rateWPM != maxRateWPM {
		t.Fatalf("rate = %d, want %d", a.rateWPM, maxRateWPM)
	}
	a.SetRate(200)
	if a.rateWPM != 200 {
		t.Fatalf("rate = %d, want 200", a.rateWPM)
	}
}

func TestSetVolumeClampsToBounds(t *testing.T) {
	a := &Adapter{}
	a.SetVolume(-1)
	if a.volume != 0 {
		t.Fatalf("volume = %v, want 0", a.volume)
	}
	a.SetVolume(5)
	if a.volume != 1 {
		t.Fatalf("volume = %v, want 1", a.volume)
	}
	a.SetVolume(0.5)
	if a.volume != 0.5 {
		t.Fatalf("volume = %v, want 0.5", a.volume)
	}
}

func TestScaleInPlaceHalvesAmplitude(t *testing.T) {
	pcm := []byte{0, 0}
	pcm[0] = byte(int16(1000))
	pcm[1] = byte(int16(1000) >> 8)
	scaleInPlace(pcm, 0.5)
	v := int16(pcm[0]) | int16(pcm[1])<<8
	if v != 500 {
		t.Fatalf("scaled value = %d, want 500", v)
	}
}

func TestStopClearsPendingAndSpeaking(t *testing.T) {
	a := &Adapter{}
	a.pending = []byte{1, 2, 3, 4}
	a.speaking = true
	a.doneCh = make(chan struct{})

	a.Stop()

	if a.IsSpeaking() {
		t.Fatal("expected speaking to be false after Stop")
	}
	if len(a.pending) != 0 {
		t.Fatal("expected pending buffer to be cleared after Stop")
	}
}

func TestIsSpeakingReflectsState(t *testing.T) {
	a := &Adapter{}
	if a.IsSpeaking() {
		t.Fatal("expected not speaking initially")
	}
	a.speaking = true
	if !a.IsSpeaking() {
		t.Fatal("expected speaking true")
	}
}

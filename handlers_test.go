package coapd

import "testing"

func newTestResources(fs Filesystem) *Resources {
	registry := NewObserveRegistry(MaxSubscribers, TimeoutThreshold, SubscriberTimeout.Milliseconds(), nil)
	return NewResources(fs, "file.txt", "file.jpg", registry, nil)
}

func TestActuatorsGETAndPUT(t *testing.T) {
	r := newTestResources(newMemFilesystem())
	req := NewMessage(CON, CodePUT, 0x2000, []byte("B2"))
	req.Payload = []byte("LED=ON,BUZZER=ON")
	resp := r.handleActuatorsPUT(req, "peer:1", 0)
	if resp.Code != Changed2_04 || string(resp.Payload) != "OK" {
		t.Fatalf("PUT actuators: code=%d payload=%q", resp.Code, resp.Payload)
	}

	getReq := NewMessage(CON, CodeGET, 0x2001, nil)
	getResp := r.handleActuatorsGET(getReq, "peer:1", 0)
	if string(getResp.Payload) != "LED=ON,BUZZER=ON" {
		t.Fatalf("GET actuators = %q", getResp.Payload)
	}
}

func TestActuatorsPUTEmptyPayload(t *testing.T) {
	r := newTestResources(newMemFilesystem())
	req := NewMessage(CON, CodePUT, 1, nil)
	resp := r.handleActuatorsPUT(req, "peer:1", 0)
	if resp.Code != BadRequest4_00 {
		t.Fatalf("expected 4.00 for empty PUT payload, got %d", resp.Code)
	}
}

func TestActuatorsBuzzerNoSpuriousToggle(t *testing.T) {
	// §9 Open Question 4: BUZZER=ON must leave the buzzer on, not
	// immediately toggle it back off.
	r := newTestResources(newMemFilesystem())
	req := NewMessage(CON, CodePUT, 1, nil)
	req.Payload = []byte("BUZZER=ON")
	r.handleActuatorsPUT(req, "peer:1", 0)
	if !r.Actuators.buzzer {
		t.Fatalf("BUZZER=ON should leave the buzzer on")
	}
}

func TestButtonsGETWithoutObserve(t *testing.T) {
	r := newTestResources(newMemFilesystem())
	r.Buttons.SetFromByte(0x5) // BTN1 and BTN3
	req := NewMessage(CON, CodeGET, 1, nil)
	resp := r.handleButtonsGET(req, "peer:1", 0)
	if string(resp.Payload) != "BTN1=1,BTN2=0,BTN3=1" {
		t.Fatalf("buttons format = %q", resp.Payload)
	}
}

func TestButtonsGETWithObserveRegisters(t *testing.T) {
	r := newTestResources(newMemFilesystem())
	req := NewMessage(CON, CodeGET, 0x1234, []byte("A1"))
	req.Options.SetUint(OptObserve, 0)
	resp := r.handleButtonsGET(req, "peer:1", 1000)
	if resp.Code != Content2_05 {
		t.Fatalf("expected 2.05, got %d", resp.Code)
	}
	if seq, ok := resp.Options.GetUint(OptObserve); !ok || seq != 0 {
		t.Fatalf("expected Observe=0 on registration reply, got %d ok=%v", seq, ok)
	}
	if r.Registry.Count() != 1 {
		t.Fatalf("expected 1 registered subscriber, got %d", r.Registry.Count())
	}
}

func TestFileGETBlockwise(t *testing.T) {
	fs := newMemFilesystem()
	data := make([]byte, 1500)
	fs.seed("file.txt", data)
	r := newTestResources(fs)

	req := NewMessage(CON, CodeGET, 1, nil)
	resp := r.handleFileGET(req, "peer:1", 0)
	if resp.Code != Content2_05 || len(resp.Payload) != 1024 {
		t.Fatalf("first block: code=%d len=%d", resp.Code, len(resp.Payload))
	}
	num, more, _ := func() (uint32, bool, uint8) {
		opt, _ := resp.Options.Find(OptBlock2)
		return DecodeBlock2(opt.Value)
	}()
	if num != 0 || !more {
		t.Fatalf("expected block 0 with more=true, got num=%d more=%v", num, more)
	}

	req2 := NewMessage(CON, CodeGET, 2, nil)
	req2.Options.SetUint(OptBlock2, block2Value(1, false, SZXMax))
	resp2 := r.handleFileGET(req2, "peer:1", 0)
	if len(resp2.Payload) != 476 {
		t.Fatalf("second block length = %d, want 476", len(resp2.Payload))
	}
}

func TestFileGETNotFound(t *testing.T) {
	r := newTestResources(newMemFilesystem())
	req := NewMessage(CON, CodeGET, 1, nil)
	resp := r.handleFileGET(req, "peer:1", 0)
	if resp.Code != NotFound4_04 {
		t.Fatalf("expected 4.04 for missing file, got %d", resp.Code)
	}
}

func TestFileIPATCHAppends(t *testing.T) {
	fs := newMemFilesystem()
	fs.seed("file.txt", []byte("line0\n"))
	r := newTestResources(fs)

	req := NewMessage(CON, CodeIPATCH, 1, nil)
	req.Payload = []byte("line1")
	resp := r.handleFileIPATCH(req, "peer:1", 0)
	if resp.Code != Changed2_04 || string(resp.Payload) != "Appended" {
		t.Fatalf("iPATCH: code=%d payload=%q", resp.Code, resp.Payload)
	}
	if got := string(fs.contents("file.txt")); got != "line0\nline1\n" {
		t.Fatalf("file contents after append = %q", got)
	}
}

func TestFileIPATCHEmptyPayload(t *testing.T) {
	r := newTestResources(newMemFilesystem())
	req := NewMessage(CON, CodeIPATCH, 1, nil)
	resp := r.handleFileIPATCH(req, "peer:1", 0)
	if resp.Code != BadRequest4_00 {
		t.Fatalf("expected 4.00 for empty iPATCH payload, got %d", resp.Code)
	}
}

func TestFileFETCHValidRange(t *testing.T) {
	fs := newMemFilesystem()
	var data []byte
	for i := 0; i < 20; i++ {
		data = append(data, []byte("line")...)
		data = append(data, byte('0'+i%10), '\n')
	}
	fs.seed("file.txt", data)
	r := newTestResources(fs)

	req := NewMessage(CON, CodeFETCH, 0x3000, nil)
	req.Options.SetUint(OptContentFormat, ContentFormatTextPlain)
	req.Payload = []byte("0,4")
	resp := r.handleFileFETCH(req, "peer:1", 0)
	if resp.Code != Content2_05 {
		t.Fatalf("expected 2.05, got %d", resp.Code)
	}
	wantLines := 5
	gotLines := 0
	for _, b := range resp.Payload {
		if b == '\n' {
			gotLines++
		}
	}
	if gotLines != wantLines {
		t.Fatalf("expected %d lines in FETCH response, got %d (%q)", wantLines, gotLines, resp.Payload)
	}
}

func TestFileFETCHMissingContentFormat(t *testing.T) {
	fs := newMemFilesystem()
	fs.seed("file.txt", []byte("a\nb\n"))
	r := newTestResources(fs)

	req := NewMessage(CON, CodeFETCH, 0x3001, nil)
	req.Payload = []byte("0,4")
	resp := r.handleFileFETCH(req, "peer:1", 0)
	if resp.Code != UnsupportedContentFormat4_15 {
		t.Fatalf("expected 4.15, got %d", resp.Code)
	}
	if string(resp.Payload) != "Content-Format required" {
		t.Fatalf("unexpected diagnostic payload: %q", resp.Payload)
	}
}

func TestFileFETCHPastEOF(t *testing.T) {
	fs := newMemFilesystem()
	fs.seed("file.txt", []byte("a\nb\n"))
	r := newTestResources(fs)

	req := NewMessage(CON, CodeFETCH, 1, nil)
	req.Options.SetUint(OptContentFormat, ContentFormatTextPlain)
	req.Payload = []byte("50,60")
	resp := r.handleFileFETCH(req, "peer:1", 0)
	if resp.Code != Content2_05 {
		t.Fatalf("expected 2.05 for a start past EOF, got %d", resp.Code)
	}
	if len(resp.Payload) != 0 {
		t.Fatalf("expected empty body past EOF, got %q", resp.Payload)
	}
}

package coapd

// RegisterRoutes wires the six route handlers onto d in the shape
// spec.md §9 calls for: "a vector of (method, path_segments, handler), not
// via inheritance". Table size is small (single-digit entries).
func RegisterRoutes(d *Dispatcher, r *Resources) {
	d.Handle(CodeGET, "/buttons", r.handleButtonsGET)
	d.Handle(CodeGET, "/actuators", r.handleActuatorsGET)
	d.Handle(CodePUT, "/actuators", r.handleActuatorsPUT)
	d.Handle(CodeGET, "/file", r.handleFileGET)
	d.Handle(CodeIPATCH, "/file", r.handleFileIPATCH)
	d.Handle(CodeFETCH, "/file", r.handleFileFETCH)
}

// handleButtonsGET implements §4.9 `buttons`: a plain GET reports the
// current debounced state; a GET carrying Observe=0 registers a
// subscription instead and replies with the subscriber's starting
// sequence number. Notifications are pushed separately by Endpoint's
// trigger handling, not from here.
func (r *Resources) handleButtonsGET(req *Message, peer Addr, now int64) *Message {
	if obs, ok := req.Options.GetUint(OptObserve); ok && obs == 0 {
		sub, err := r.Registry.Register(peer, req.Token, now)
		if err != nil {
			resp := req.ResponseTo(CON, BadRequest4_00)
			resp.Payload = []byte("no free subscriber slot")
			return resp
		}
		resp := req.ResponseTo(CON, Content2_05)
		resp.Options.SetUint(OptObserve, sub.Sequence)
		return resp
	}
	resp := req.ResponseTo(CON, Content2_05)
	resp.Payload = []byte(r.Buttons.Format())
	return resp
}

// handleActuatorsGET implements §4.9 `actuators` GET.
func (r *Resources) handleActuatorsGET(req *Message, peer Addr, now int64) *Message {
	resp := req.ResponseTo(CON, Content2_05)
	resp.Payload = []byte(r.Actuators.Format())
	return resp
}

// handleActuatorsPUT implements §4.9 `actuators` PUT: scans the payload
// for any of the four directives as substrings and applies each present
// one.
func (r *Resources) handleActuatorsPUT(req *Message, peer Addr, now int64) *Message {
	if len(req.Payload) == 0 {
		resp := req.ResponseTo(CON, BadRequest4_00)
		resp.Payload = []byte("empty payload")
		return resp
	}
	r.Actuators.Apply(string(req.Payload))
	resp := req.ResponseTo(CON, Changed2_04)
	resp.Payload = []byte("OK")
	return resp
}

// targetPath resolves the `file` resource's backing path from the
// optional `?type=image` query (§4.9/§6).
func (r *Resources) targetPath(req *Message) (path string, isImage bool) {
	for _, q := range req.Options.Query() {
		if q == "type=image" {
			return r.ImagePath, true
		}
	}
	return r.TextPath, false
}

// handleFileGET implements §4.9 `file` GET: block-wise download. A
// request with no Block2 option is treated as an implicit block 0 at
// SZX=6; an explicit Block2 requests a specific block at the client's
// chosen size.
func (r *Resources) handleFileGET(req *Message, peer Addr, now int64) *Message {
	path, isImage := r.targetPath(req)
	blockNum := uint32(0)
	szx := SZXMax
	if v, ok := req.Options.GetUint(OptBlock2); ok {
		blockNum, _, szx = UnpackBlock2Value(v)
	}
	blockSize := BlockSize(szx)

	f, err := r.FS.OpenRead(path)
	if err != nil {
		return req.ResponseTo(CON, NotFound4_04)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return req.ResponseTo(CON, ServiceUnavailable5_03)
	}
	payload, more, err := readBlock(f, blockNum, blockSize, size)
	if err != nil {
		return req.ResponseTo(CON, ServiceUnavailable5_03)
	}

	resp := req.ResponseTo(CON, Content2_05)
	resp.Options.SetUint(OptBlock2, block2Value(blockNum, more, szx))
	if blockNum == 0 && isImage {
		// Content-Format only ever rides on block 0, per §4.5/§9.
		resp.Options.SetUint(OptContentFormat, ContentFormatImageJPEG)
	}
	resp.Payload = payload
	return resp
}

// handleFileIPATCH implements §4.9 `file` iPATCH: append the payload
// followed by a newline.
func (r *Resources) handleFileIPATCH(req *Message, peer Addr, now int64) *Message {
	if len(req.Payload) == 0 {
		resp := req.ResponseTo(CON, BadRequest4_00)
		resp.Payload = []byte("empty payload")
		return resp
	}
	f, err := r.FS.OpenAppend(r.TextPath)
	if err != nil {
		return req.ResponseTo(CON, ServiceUnavailable5_03)
	}
	defer f.Close()

	data := append(append([]byte(nil), req.Payload...), '\n')
	if _, err := f.Write(data); err != nil {
		return req.ResponseTo(CON, ServiceUnavailable5_03)
	}
	resp := req.ResponseTo(CON, Changed2_04)
	resp.Payload = []byte("Appended")
	return resp
}

// handleFileFETCH implements §4.9 `file` FETCH: a line-range read, gated
// on Content-Format=0 (text/plain) and a non-empty payload describing the
// range.
func (r *Resources) handleFileFETCH(req *Message, peer Addr, now int64) *Message {
	cf, ok := req.Options.GetUint(OptContentFormat)
	if !ok || cf != ContentFormatTextPlain {
		resp := req.ResponseTo(CON, UnsupportedContentFormat4_15)
		resp.Payload = []byte("Content-Format required")
		return resp
	}
	if len(req.Payload) == 0 {
		resp := req.ResponseTo(CON, BadRequest4_00)
		resp.Payload = []byte("empty payload")
		return resp
	}

	start, end, err := parseFetchRange(string(req.Payload))
	if err != nil {
		resp := req.ResponseTo(CON, BadRequest4_00)
		resp.Payload = []byte(err.Error())
		return resp
	}

	f, err := r.FS.OpenRead(r.TextPath)
	if err != nil {
		return req.ResponseTo(CON, NotFound4_04)
	}
	defer f.Close()

	body, err := readLineRange(f, start, end)
	if err != nil {
		return req.ResponseTo(CON, ServiceUnavailable5_03)
	}
	resp := req.ResponseTo(CON, Content2_05)
	resp.Payload = body
	return resp
}

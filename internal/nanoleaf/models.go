package nanoleaf

// InfoData is the full device info returned by GET /api/v1/{token}/
type InfoData struct {
	Name            string          `json:"name"`
	SerialNo        string          `json:"serialNo"`
	Manufacturer    string          `json:"manufacturer"`
	FirmwareVersion string          `json:"firmwareVersion"`
	HardwareVersion string          `json:"hardwareVersion,omitempty"`
	Model           string          `json:"model"`
	State           StateData       `json:"state"`
	Effects         EffectsData     `json:"effects"`
	PanelLayout     PanelLayoutData `json:"panelLayout"`
}

// PowerState is the "on" topic of the state object.
type PowerState struct {
	Value bool `json:"value"`
}

// ValueWithRange is a numeric topic with its bounds.
type ValueWithRange struct {
	Value int `json:"value"`
	Max   int `json:"max"`
	Min   int `json:"min"`
}

// StateData is the "state" object of the device info.
type StateData struct {
	On         PowerState     `json:"on"`
	Brightness ValueWithRange `json:"brightness"`
	Hue        ValueWithRange `json:"hue"`
	Sat        ValueWithRange `json:"sat"`
	Ct         ValueWithRange `json:"ct"`
	ColorMode  string         `json:"colorMode"`
}

// EffectsData is the "effects" object of the device info.
type EffectsData struct {
	Select      string   `json:"select"`
	EffectsList []string `json:"effectsList"`
}

// PanelLayoutData is the "panelLayout" object of the device info.
type PanelLayoutData struct {
	Layout            LayoutData     `json:"layout"`
	GlobalOrientation ValueWithRange `json:"globalOrientation"`
}

// LayoutData lists panel positions.
type LayoutData struct {
	NumPanels    int            `json:"numPanels"`
	SideLength   int            `json:"sideLength"`
	PositionData []PositionData `json:"positionData"`
}

// PositionData is one panel entry of the layout. ShapeType is absent on older firmware.
type PositionData struct {
	PanelID   int  `json:"panelId"`
	X         int  `json:"x"`
	Y         int  `json:"y"`
	O         int  `json:"o"`
	ShapeType *int `json:"shapeType,omitempty"`
}

// PaletteColor is one entry of an effect palette.
type PaletteColor struct {
	Hue         int `json:"hue"`
	Saturation  int `json:"saturation"`
	Brightness  int `json:"brightness"`
	Probability int `json:"probability,omitempty"`
}

// EffectData is the response of an effect "request" write.
type EffectData struct {
	AnimName  string         `json:"animName"`
	AnimType  string         `json:"animType"`
	ColorType string         `json:"colorType,omitempty"`
	Palette   []PaletteColor `json:"palette"`
}

package nanoleaf

import (
	"fmt"
	"sort"
	"strconv"
)

// Shape describes the physical module type of a panel.
type Shape struct {
	Name string
	// SideLength is only meaningful when HasSideLength is true.
	SideLength    int
	HasSideLength bool
}

func sized(name string, side int) Shape {
	return Shape{Name: name, SideLength: side, HasSideLength: true}
}

func unsized(name string) Shape {
	return Shape{Name: name}
}

// Known panel shapes.
var (
	ShapeLightPanelsTriangle        = sized("Triangle", 150)
	ShapeLightPanelsRhythm          = unsized("Rhythm")
	ShapeCanvasSquare               = sized("Square", 100)
	ShapeCanvasControlSquareMaster  = sized("Control Square Master", 100)
	ShapeCanvasControlSquarePassive = sized("Control Square Passive", 100)
	ShapeShapesHexagon              = sized("Hexagon (Shapes)", 67)
	ShapeShapesTriangle             = sized("Triangle (Shapes)", 134)
	ShapeShapesMiniTriangle         = sized("Mini Triangle (Shapes)", 67)
	ShapeShapesController           = unsized("Shapes Controller")
	ShapeElementsHexagons           = sized("Elements Hexagons", 134)
	ShapeElementsHexagonsCorner     = unsized("Elements Hexagons - Corner")
	ShapeLinesConnector             = sized("Lines Connector", 11)
	ShapeLinesLight                 = sized("Light Lines", 154)
	ShapeLinesLightSingleZone       = sized("Light Lines - Single Zone", 77)
	ShapeLinesControllerCap         = sized("Controller Cap", 11)
	ShapeLinesPowerConnector        = sized("Power Connector", 11)
)

var shapesByType = map[int]Shape{
	0:  ShapeLightPanelsTriangle,
	1:  ShapeLightPanelsRhythm,
	2:  ShapeCanvasSquare,
	3:  ShapeCanvasControlSquareMaster,
	4:  ShapeCanvasControlSquarePassive,
	7:  ShapeShapesHexagon,
	8:  ShapeShapesTriangle,
	9:  ShapeShapesMiniTriangle,
	12: ShapeShapesController,
	14: ShapeElementsHexagons,
	15: ShapeElementsHexagonsCorner,
	16: ShapeLinesConnector,
	17: ShapeLinesLight,
	18: ShapeLinesLightSingleZone,
	19: ShapeLinesControllerCap,
	20: ShapeLinesPowerConnector,
}

// ShapeForType maps a shapeType code to a Shape.
// Unknown codes map to a shape named after the raw code.
func ShapeForType(code int) Shape {
	if s, ok := shapesByType[code]; ok {
		return s
	}
	return unsized(strconv.Itoa(code))
}

// Panel is one light tile in the device layout. Immutable once built.
type Panel struct {
	ID          int
	X           int
	Y           int
	Orientation int
	ShapeType   int
}

// Shape returns the panel's physical shape.
func (p Panel) Shape() Shape {
	return ShapeForType(p.ShapeType)
}

func newPanel(pd PositionData) Panel {
	shapeType := -1
	if pd.ShapeType != nil {
		shapeType = *pd.ShapeType
	}
	return Panel{
		ID:          pd.PanelID,
		X:           pd.X,
		Y:           pd.Y,
		Orientation: pd.O,
		ShapeType:   shapeType,
	}
}

// PanelSet is a set of panels keyed by id.
type PanelSet map[int]Panel

// NewPanelSet builds a set, failing if two panels share an id.
func NewPanelSet(positions []PositionData) (PanelSet, error) {
	set := make(PanelSet, len(positions))
	for _, pd := range positions {
		if _, dup := set[pd.PanelID]; dup {
			return nil, fmt.Errorf("duplicate panel id %d in layout", pd.PanelID)
		}
		set[pd.PanelID] = newPanel(pd)
	}
	return set, nil
}

// IDs returns panel ids in ascending order.
func (s PanelSet) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

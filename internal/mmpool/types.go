// Package mmpool implements the pool registry: typed allocation
// containers layered over an mmarena.Arena, each with a free-list
// discipline fixed by its PoolClass and a segregated-allocation-cache
// fast path.
package mmpool

// PoolClass determines free-list discipline, save/restore support, and
// tracing support for a pool.
type PoolClass int

const (
	EPDL PoolClass = iota
	EPDR
	EPVM
	EPVMDebug
	EPFN
	EPFNDebug
	MV
	MVFF
)

func (c PoolClass) String() string {
	switch c {
	case EPDL:
		return "EPDL"
	case EPDR:
		return "EPDR"
	case EPVM:
		return "EPVM"
	case EPVMDebug:
		return "EPVMDebug"
	case EPFN:
		return "EPFN"
	case EPFNDebug:
		return "EPFNDebug"
	case MV:
		return "MV"
	case MVFF:
		return "MVFF"
	default:
		return "UNKNOWN"
	}
}

// FreeListDiscipline names the allocation strategy a PoolClass selects.
type FreeListDiscipline int

const (
	DisciplineStack FreeListDiscipline = iota
	DisciplineRightFit
	DisciplineLeftFit
	DisciplineVersionedMarking
)

func (c PoolClass) Discipline() FreeListDiscipline {
	switch c {
	case EPDL, EPDR:
		return DisciplineStack
	case EPVM, EPVMDebug, EPFN, EPFNDebug:
		return DisciplineVersionedMarking
	case MVFF:
		return DisciplineLeftFit
	default:
		return DisciplineRightFit
	}
}

// PoolType is the closed 27-entry enumeration of pool types the memory
// manager creates.
type PoolType int

const (
	TypeDL PoolType = iota
	TypeDLFast
	TypeTEMP
	TypeCOLOR
	TypeCOC
	TypeTABLE
	TypePCL
	TypePCLXL
	TypePSVM
	TypePSVMDebug
	TypePSVMFN
	TypePSVMFNDebug
	TypePDF
	TypeIRR
	TypeTRAP
	TypeIMBFIX
	TypeIMBVAR
	TypeRSD
	TypeTIFF
	TypeSHADING
	TypeXMLParse
	TypeXMLSubsystem
	TypeBAND
	TypeBDState
	TypeBDData
	TypeRLE
	TypeHTForm

	numPoolTypes
)

var poolTypeNames = [numPoolTypes]string{
	TypeDL:           "DL",
	TypeDLFast:       "DL_FAST",
	TypeTEMP:         "TEMP",
	TypeCOLOR:        "COLOR",
	TypeCOC:          "COC",
	TypeTABLE:        "TABLE",
	TypePCL:          "PCL",
	TypePCLXL:        "PCLXL",
	TypePSVM:         "PSVM",
	TypePSVMDebug:    "PSVM_DEBUG",
	TypePSVMFN:       "PSVMFN",
	TypePSVMFNDebug:  "PSVMFN_DEBUG",
	TypePDF:          "PDF",
	TypeIRR:          "IRR",
	TypeTRAP:         "TRAP",
	TypeIMBFIX:       "IMBFIX",
	TypeIMBVAR:       "IMBVAR",
	TypeRSD:          "RSD",
	TypeTIFF:         "TIFF",
	TypeSHADING:      "SHADING",
	TypeXMLParse:     "XML_PARSE",
	TypeXMLSubsystem: "XML_SUBSYSTEM",
	TypeBAND:         "BAND",
	TypeBDState:      "BDSTATE",
	TypeBDData:       "BDDATA",
	TypeRLE:          "RLE",
	TypeHTForm:       "HTFORM",
}

func (t PoolType) String() string {
	if t < 0 || t >= numPoolTypes {
		return "UNKNOWN"
	}
	return poolTypeNames[t]
}

// TypeParams holds the fixed parameters every pool of a given PoolType
// is created with.
type TypeParams struct {
	Class        PoolClass
	SegmentSize  int64
	AverageAlloc int64
	Alignment    int
	MaxPoolSize  int64 // 0 = unbounded
	SlotHigh     bool
	ArenaHigh    bool
	FirstFit     bool
	Debug        bool
}

// poolTypeParams is the fixed lookup table mapping each PoolType to its
// class and sizing parameters.
var poolTypeParams = [numPoolTypes]TypeParams{
	TypeDL:           {Class: EPDL, SegmentSize: 64 << 10, AverageAlloc: 64, Alignment: 8, MaxPoolSize: 0, FirstFit: true},
	TypeDLFast:       {Class: EPDL, SegmentSize: 128 << 10, AverageAlloc: 32, Alignment: 8, FirstFit: true},
	TypeTEMP:         {Class: MVFF, SegmentSize: 32 << 10, AverageAlloc: 128, Alignment: 8},
	TypeCOLOR:        {Class: MVFF, SegmentSize: 16 << 10, AverageAlloc: 256, Alignment: 8},
	TypeCOC:          {Class: MVFF, SegmentSize: 16 << 10, AverageAlloc: 64, Alignment: 8},
	TypeTABLE:        {Class: EPDR, SegmentSize: 32 << 10, AverageAlloc: 96, Alignment: 4, FirstFit: true},
	TypePCL:          {Class: MVFF, SegmentSize: 64 << 10, AverageAlloc: 512, Alignment: 8},
	TypePCLXL:        {Class: MVFF, SegmentSize: 64 << 10, AverageAlloc: 512, Alignment: 8},
	TypePSVM:         {Class: EPVM, SegmentSize: 256 << 10, AverageAlloc: 24, Alignment: 8, SlotHigh: true},
	TypePSVMDebug:    {Class: EPVMDebug, SegmentSize: 256 << 10, AverageAlloc: 24, Alignment: 8, SlotHigh: true, Debug: true},
	TypePSVMFN:       {Class: EPFN, SegmentSize: 32 << 10, AverageAlloc: 24, Alignment: 8},
	TypePSVMFNDebug:  {Class: EPFNDebug, SegmentSize: 32 << 10, AverageAlloc: 24, Alignment: 8, Debug: true},
	TypePDF:          {Class: MVFF, SegmentSize: 64 << 10, AverageAlloc: 128, Alignment: 8},
	TypeIRR:          {Class: EPDR, SegmentSize: 16 << 10, AverageAlloc: 64, Alignment: 4},
	TypeTRAP:         {Class: MVFF, SegmentSize: 32 << 10, AverageAlloc: 64, Alignment: 4},
	TypeIMBFIX:       {Class: EPDL, SegmentSize: 512 << 10, AverageAlloc: 4096, Alignment: 8, ArenaHigh: true},
	TypeIMBVAR:       {Class: MVFF, SegmentSize: 512 << 10, AverageAlloc: 4096, Alignment: 8},
	TypeRSD:          {Class: MVFF, SegmentSize: 16 << 10, AverageAlloc: 128, Alignment: 4},
	TypeTIFF:         {Class: MVFF, SegmentSize: 64 << 10, AverageAlloc: 256, Alignment: 4},
	TypeSHADING:      {Class: MVFF, SegmentSize: 32 << 10, AverageAlloc: 96, Alignment: 8},
	TypeXMLParse:     {Class: EPDR, SegmentSize: 16 << 10, AverageAlloc: 48, Alignment: 4},
	TypeXMLSubsystem: {Class: MVFF, SegmentSize: 16 << 10, AverageAlloc: 64, Alignment: 4},
	TypeBAND:         {Class: EPDL, SegmentSize: 256 << 10, AverageAlloc: 2048, Alignment: 8, ArenaHigh: true},
	TypeBDState:      {Class: EPDR, SegmentSize: 8 << 10, AverageAlloc: 32, Alignment: 4},
	TypeBDData:       {Class: MVFF, SegmentSize: 64 << 10, AverageAlloc: 512, Alignment: 8},
	TypeRLE:          {Class: MVFF, SegmentSize: 32 << 10, AverageAlloc: 64, Alignment: 4},
	TypeHTForm:       {Class: MVFF, SegmentSize: 16 << 10, AverageAlloc: 128, Alignment: 4},
}

// ParamsFor returns the fixed parameters for t.
func ParamsFor(t PoolType) (TypeParams, bool) {
	if t < 0 || t >= numPoolTypes {
		return TypeParams{}, false
	}
	return poolTypeParams[t], true
}

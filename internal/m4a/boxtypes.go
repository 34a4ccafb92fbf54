package m4a

// boxType is a comparable 4-byte box type, matching the reference's
// ASCII_TO_INT32 trick of folding the 4 bytes into a single comparable value
// for table lookups and switch comparisons.
type boxType [4]byte

func (t boxType) String() string { return string(t[:]) }

func bt(s string) boxType {
	var t boxType
	copy(t[:], s)
	return t
}

// Container box types: recurse into their body.
var containerTypes = map[boxType]bool{
	bt("moov"): true,
	bt("trak"): true,
	bt("mdia"): true,
	bt("minf"): true,
	bt("dinf"): true,
	bt("stbl"): true,
	bt("udta"): true,
}

// Silently-skipped box types: consumed without inspection.
var skippedTypes = map[boxType]bool{
	bt("hdlr"): true,
	bt("smhd"): true,
	bt("dref"): true,
	bt("stsc"): true,
	bt("stco"): true,
	bt("free"): true,
}

var (
	typeFtyp = bt("ftyp")
	typeMvhd = bt("mvhd")
	typeMdhd = bt("mdhd")
	typeTkhd = bt("tkhd")
	typeStsd = bt("stsd")
	typeAlac = bt("alac")
	typeMp4a = bt("mp4a")
	typeStts = bt("stts")
	typeStsz = bt("stsz")
	typeMdat = bt("mdat")
	typeMeta = bt("meta")
	typeIlst = bt("ilst")
	typeAppleList = bt("----") // the iTunes "free-form" annotation container
	typeMean = bt("mean")
	typeName = bt("name")
	typeData = bt("data")
)

const majorBrandM4A = "M4A "

// annotationTypes are the iTunes metadata atoms m4afile.c's
// mp4BoxParserTable routes to mp4BoxParseAppleAnnotation. Anything in this
// set is a recognized annotation: with a handler installed its value is
// forwarded, and with none installed it is still cleanly skipped (no
// warning, no status downgrade) rather than falling through as "unknown".
var annotationTypes = map[boxType]bool{
	typeAppleList:  true, // "----", the free-form annotation container
	bt("\xa9nam"):  true, // Name
	bt("\xa9ART"):  true, // Artist
	bt("aART"):     true, // Album artist
	bt("\xa9alb"):  true, // Album
	bt("\xa9grp"):  true, // Grouping
	bt("\xa9wrt"):  true, // Composer/writer
	bt("\xa9cmt"):  true, // Comment
	bt("gnre"):     true, // Genre
	bt("\xa9gen"):  true, // Genre (user defined)
	bt("\xa9day"):  true, // Release date
	bt("trkn"):     true, // Track number
	bt("disk"):     true, // Disc number
	bt("tmpo"):     true, // Tempo
	bt("cpil"):     true, // Compilation
	bt("desc"):     true, // Description
	bt("ldes"):     true, // Long description
	bt("\xa9lyr"):  true, // Lyrics
	bt("sonm"):     true, // Sort name
	bt("soar"):     true, // Sort artist
	bt("soaa"):     true, // Sort album artist
	bt("soal"):     true, // Sort album
	bt("soco"):     true, // Sort composer
	bt("sosn"):     true, // Sort show
	bt("covr"):     true, // Cover art
	bt("cprt"):     true, // Copyright
	bt("\xa9too"):  true, // Encoding tool
	bt("\xa9enc"):  true, // Encoded by
	bt("purd"):     true, // Purchase date
	bt("pcst"):     true, // Podcast
	bt("purl"):     true, // Podcast URL
	bt("keyw"):     true, // Keywords
	bt("catg"):     true, // Category
	bt("stik"):     true, // Media type
	bt("rtng"):     true, // Content rating
	bt("pgap"):     true, // Gapless playback
	bt("apID"):     true, // Purchase account
	bt("akID"):     true, // Account type
	bt("cnID"):     true, // Unknown
	bt("sfID"):     true, // Country code
	bt("atID"):     true, // Unknown
	bt("plID"):     true, // Unknown
	bt("geID"):     true, // Unknown
	bt("\xa9st3"):  true, // Unknown
}

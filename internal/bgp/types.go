package bgp

// attrName lists the spellings of one attribute: the dotted BIRD 2 name
// first, then the BIRD 3 name.
type attrName []string

var (
	nameOrigin         = attrName{"BGP.origin", "bgp_origin"}
	nameASPath         = attrName{"BGP.as_path", "bgp_path"}
	nameNextHop        = attrName{"BGP.next_hop", "bgp_next_hop"}
	nameMED            = attrName{"BGP.med", "bgp_med"}
	nameLocalPref      = attrName{"BGP.local_pref", "bgp_local_pref"}
	nameCommunity      = attrName{"BGP.community", "bgp_community"}
	nameExtCommunity   = attrName{"BGP.ext_community", "bgp_ext_community"}
	nameLargeCommunity = attrName{"BGP.large_community", "bgp_large_community"}
)

// columnAttrs are stored in dedicated columns and left out of Attrs.
var columnAttrs = map[string]bool{}

func init() {
	for _, n := range []attrName{
		nameOrigin, nameASPath, nameNextHop, nameMED, nameLocalPref,
		nameCommunity, nameExtCommunity, nameLargeCommunity,
	} {
		for _, s := range n {
			columnAttrs[s] = true
		}
	}
}

// Origin values as BIRD prints them.
var OriginValues = map[string]string{
	"IGP":        "IGP",
	"EGP":        "EGP",
	"Incomplete": "INCOMPLETE",
	"INCOMPLETE": "INCOMPLETE",
}

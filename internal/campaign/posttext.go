package campaign

import (
	"fmt"
	"strings"
)

const callToAction = "Слушай в ВК👇🏻"

// PostText renders the dark post body: a premiere header, a mention of the
// artist community labelled with artist and track, an optional citation and
// the call to action. A short name takes precedence over the numeric group id
// in the mention.
func PostText(artist, track string, groupID int, groupName, citation string) string {
	group := strings.TrimSpace(groupName)
	if group == "" {
		group = fmt.Sprintf("public%d", groupID)
	}

	parts := []string{
		"ПРЕМЬЕРА",
		fmt.Sprintf("@%s (%s - %s)", group, strings.ToUpper(artist), track),
	}
	if c := strings.TrimSpace(citation); c != "" {
		parts = append(parts, c)
	}
	parts = append(parts, callToAction)
	return strings.Join(parts, "\n \n")
}

// CampaignName is the campaign label shown in the ads cabinet.
func CampaignName(artist, track string) string {
	return fmt.Sprintf("%s / %s", strings.ToUpper(artist), track)
}

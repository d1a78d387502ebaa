package ubo

import (
	"derived-dsl/internal/dictionary"
)

// GenerateUBOAttributes creates the Ultimate Beneficial Ownership attributes
// for one owner of a corporate entity: ownership and control inputs, and the
// derived attributes that decide whether the owner is a UBO and how deeply
// they must be screened.
func GenerateUBOAttributes() []*dictionary.AttributeDefinition {
	defs := []*dictionary.AttributeDefinition{
		// =============================================================================
		// OWNERSHIP INPUTS
		// =============================================================================
		{
			Name:        "entity_legal_name",
			Type:        "STRING",
			Source:      dictionary.SourceBusiness,
			Description: "Official legal name of the corporate entity as registered",
		},
		{
			Name:        "owner_name",
			Type:        "STRING",
			Source:      dictionary.SourceBusiness,
			Description: "Full name of the natural person holding the interest",
		},
		{
			Name:        "direct_ownership_pct",
			Type:        "FLOAT",
			Source:      dictionary.SourceBusiness,
			Description: "Share capital held directly, in percent",
		},
		{
			Name:        "indirect_ownership_pct",
			Type:        "FLOAT",
			Source:      dictionary.SourceBusiness,
			Description: "Share capital held through intermediate entities, in percent",
		},
		{
			Name:        "control_via_voting_rights",
			Type:        "BOOLEAN",
			Source:      dictionary.SourceBusiness,
			Description: "Owner controls the entity through voting agreements or board appointment",
		},

		// =============================================================================
		// SCREENING INPUTS
		// =============================================================================
		{
			Name:        "owner_pep_flag",
			Type:        "BOOLEAN",
			Source:      dictionary.SourceBusiness,
			Description: "Owner is a politically exposed person",
		},
		{
			Name:        "owner_residence",
			Type:        "STRING",
			Source:      dictionary.SourceBusiness,
			Description: "ISO 3166-1 alpha-2 country of residence",
		},

		// =============================================================================
		// DERIVED
		// =============================================================================
		{
			Name:         "total_ownership_pct",
			Type:         "FLOAT",
			Source:       dictionary.SourceDerived,
			Description:  "Direct plus indirect ownership, rounded to two places",
			Dependencies: []string{"direct_ownership_pct", "indirect_ownership_pct"},
			Rules: []string{
				`ROUND(CAST(direct_ownership_pct + indirect_ownership_pct AS FLOAT), 2)`,
			},
		},
		{
			Name:         "is_beneficial_owner",
			Type:         "BOOLEAN",
			Source:       dictionary.SourceDerived,
			Description:  "25% ownership threshold or control by other means",
			Dependencies: []string{"control_via_voting_rights", "total_ownership_pct"},
			Rules: []string{
				`RULE control_owner IF control_via_voting_rights THEN is_beneficial_owner = TRUE`,
				`total_ownership_pct >= 25`,
			},
		},
		{
			Name:         "ubo_screening_level",
			Type:         "STRING",
			Source:       dictionary.SourceDerived,
			Description:  "NONE, STANDARD or ENHANCED due diligence",
			Dependencies: []string{"is_beneficial_owner", "owner_pep_flag", "owner_residence"},
			Rules: []string{
				`RULE not_ubo IF is_beneficial_owner == FALSE THEN ubo_screening_level = "NONE"`,
				`RULE enhanced IF owner_pep_flag OR owner_residence == "KY" OR owner_residence == "VG" THEN ubo_screening_level = "ENHANCED" ELSE ubo_screening_level = "STANDARD"`,
			},
		},
		{
			Name:         "ubo_summary",
			Type:         "STRING",
			Source:       dictionary.SourceDerived,
			Description:  "One-line ownership statement for the UBO register",
			Dependencies: []string{"owner_name", "entity_legal_name", "total_ownership_pct", "ubo_screening_level"},
			Rules: []string{
				`owner_name & " holds " & total_ownership_pct & "% of " & UPPER(entity_legal_name) & " (" & ubo_screening_level & ")"`,
			},
		},
	}
	for _, d := range defs {
		d.Version = 1
		d.Stamp()
	}
	return defs
}

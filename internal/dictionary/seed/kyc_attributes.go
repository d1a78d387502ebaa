package seed

import (
	"derived-dsl/internal/dictionary"
)

// GenerateKYCAttributes creates a small KYC onboarding dictionary: business
// inputs plus derived attributes that chain through each other.
func GenerateKYCAttributes() []*dictionary.AttributeDefinition {
	defs := []*dictionary.AttributeDefinition{
		{
			Name:        "investor_legal_name",
			Type:        "STRING",
			Source:      dictionary.SourceBusiness,
			Description: "Legal full name of the investor",
		},
		{
			Name:        "investor_type",
			Type:        "STRING",
			Source:      dictionary.SourceBusiness,
			Description: "PROPER_PERSON, CORPORATE or INSTITUTIONAL",
		},
		{
			Name:        "investor_nationality",
			Type:        "STRING",
			Source:      dictionary.SourceBusiness,
			Description: "ISO 3166-1 alpha-2 country code",
		},
		{
			Name:        "investor_lei",
			Type:        "STRING",
			Source:      dictionary.SourceBusiness,
			Description: "Legal entity identifier for corporate investors",
		},
		{
			Name:        "pep_flag",
			Type:        "BOOLEAN",
			Source:      dictionary.SourceBusiness,
			Description: "Investor is a politically exposed person",
		},
		{
			Name:        "documents_verified",
			Type:        "INTEGER",
			Source:      dictionary.SourceBusiness,
			Description: "Number of verified identity documents",
		},
		{
			Name:         "lei_valid",
			Type:         "BOOLEAN",
			Source:       dictionary.SourceDerived,
			Description:  "Corporate investors carry a valid LEI",
			Dependencies: []string{"investor_type", "investor_lei"},
			Rules: []string{
				`RULE lei_valid IF investor_type == "CORPORATE" THEN lei_valid = IS_LEI(investor_lei)`,
				`TRUE`,
			},
		},
		{
			Name:         "kyc_risk_score",
			Type:         "INTEGER",
			Source:       dictionary.SourceDerived,
			Description:  "Weighted risk score from screening inputs",
			Dependencies: []string{"pep_flag", "investor_nationality", "documents_verified", "lei_valid"},
			Rules: []string{
				`RULE pep_score IF pep_flag THEN kyc_risk_score = 90`,
				`RULE lei_score IF lei_valid == FALSE THEN kyc_risk_score = 75`,
				`RULE document_score IF documents_verified < 2 THEN kyc_risk_score = 60 - documents_verified * 10`,
				`RULE offshore_score IF investor_nationality == "KY" OR investor_nationality == "VG" THEN kyc_risk_score = 55`,
				`20`,
			},
		},
		{
			Name:         "kyc_risk_rating",
			Type:         "STRING",
			Source:       dictionary.SourceDerived,
			Description:  "Risk assessment rating for KYC compliance",
			Dependencies: []string{"kyc_risk_score"},
			Rules: []string{
				`RULE high_risk IF kyc_risk_score >= 70 THEN kyc_risk_rating = "HIGH"`,
				`RULE medium_risk IF kyc_risk_score >= 40 THEN kyc_risk_rating = "MEDIUM" ELSE kyc_risk_rating = "LOW"`,
			},
		},
		{
			Name:         "investor_display_name",
			Type:         "STRING",
			Source:       dictionary.SourceDerived,
			Description:  "Name shown on onboarding screens",
			Dependencies: []string{"investor_legal_name", "kyc_risk_rating"},
			Rules: []string{
				`UPPER(investor_legal_name) & " [" & kyc_risk_rating & "]"`,
			},
		},
	}
	for _, d := range defs {
		d.Version = 1
		d.Stamp()
	}
	return defs
}

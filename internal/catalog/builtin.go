package catalog

import "github.com/sells-group/acqdocs/internal/model"

const commonRules = `Write in plain, specific, measurable language. Cite every regulatory
requirement as a FAR or DFARS clause (for example FAR 52.212-4) or a U.S.C./CFR
section. Cite every market fact, price, percentage or vendor count inline as
(Ref: source, year). Never invent vendors, prices or regulations; where the
program context does not supply a value, write [TBD: what is needed].
Use Markdown with one "##" heading per required section, using the section
names exactly as given.`

// Builtin returns the standard acquisition document kinds.
func Builtin() []Entry {
	return []Entry{
		{
			Type:  model.DocMarketResearch,
			Title: "Market Research Report",
			Sections: []string{
				"Background", "Requirement Summary", "Sources Consulted",
				"Potential Sources", "Small Business Opportunities",
				"Commercial Practices", "Conclusions and Recommendations",
			},
			Instructions: "Draft a market research report under FAR Part 10. Identify capable sources, " +
				"commercial availability, small business set-aside potential and typical pricing.\n\n" + commonRules,
		},
		{
			Type:          model.DocSourcesSought,
			Title:         "Sources Sought Notice",
			Prerequisites: []model.DocumentType{model.DocMarketResearch},
			Sections: []string{
				"Purpose", "Background", "Requirement Description",
				"Capability Statement Instructions", "Response Format and Due Date", "Disclaimer",
			},
			Instructions: "Draft a sources sought notice for publication on SAM.gov seeking capability " +
				"statements from industry. State clearly that it is not a solicitation.\n\n" + commonRules,
		},
		{
			Type:          model.DocIGCE,
			Title:         "Independent Government Cost Estimate",
			Prerequisites: []model.DocumentType{model.DocMarketResearch},
			Sections: []string{
				"Purpose", "Methodology", "Assumptions", "Labor Categories and Rates",
				"Other Direct Costs", "Cost Summary", "Sources of Pricing Data",
			},
			Instructions: "Draft an independent government cost estimate. Show the basis of every figure, " +
				"list labor categories with hours and rates, and total the estimate by period of performance.\n\n" + commonRules,
		},
		{
			Type:          model.DocPWS,
			Title:         "Performance Work Statement",
			Prerequisites: []model.DocumentType{model.DocMarketResearch},
			Sections: []string{
				"Introduction", "Scope", "Background", "Performance Requirements",
				"Deliverables", "Performance Standards", "Place and Period of Performance",
				"Government Furnished Property",
			},
			Instructions: "Draft a performance-based work statement per FAR 37.602. Describe outcomes, " +
				"not methods, and give every requirement a measurable performance standard.\n\n" + commonRules,
		},
		{
			Type:          model.DocQASP,
			Title:         "Quality Assurance Surveillance Plan",
			Prerequisites: []model.DocumentType{model.DocPWS},
			Sections: []string{
				"Purpose", "Roles and Responsibilities", "Performance Requirements Summary",
				"Surveillance Methods", "Acceptable Quality Levels", "Documentation and Corrective Action",
			},
			Instructions: "Draft a quality assurance surveillance plan that maps each performance standard " +
				"of the work statement to a surveillance method and acceptable quality level.\n\n" + commonRules,
		},
		{
			Type:  model.DocAcquisitionPlan,
			Title: "Acquisition Plan",
			Prerequisites: []model.DocumentType{
				model.DocMarketResearch, model.DocIGCE, model.DocPWS,
			},
			Sections: []string{
				"Statement of Need", "Cost", "Capability or Performance", "Delivery or Performance Period",
				"Trade-offs", "Risks", "Acquisition Streamlining", "Sources", "Competition",
				"Contract Type", "Milestones",
			},
			Instructions: "Draft a written acquisition plan following FAR 7.105. Justify the contract type " +
				"and competition strategy from the market research and cost estimate.\n\n" + commonRules,
		},
		{
			Type:  model.DocEvaluationCriteria,
			Title: "Evaluation Criteria (Section M)",
			Prerequisites: []model.DocumentType{
				model.DocPWS, model.DocAcquisitionPlan,
			},
			Sections: []string{
				"Basis for Award", "Evaluation Factors", "Relative Importance",
				"Rating Methodology", "Price Evaluation",
			},
			Instructions: "Draft Section M evaluation criteria per FAR 15.304. Factors must trace to the " +
				"work statement and state their relative importance.\n\n" + commonRules,
		},
		{
			Type:  model.DocSectionL,
			Title: "Instructions to Offerors (Section L)",
			Prerequisites: []model.DocumentType{
				model.DocPWS, model.DocEvaluationCriteria,
			},
			Sections: []string{
				"General Instructions", "Proposal Organization", "Technical Volume",
				"Past Performance Volume", "Price Volume", "Submission Instructions",
			},
			Instructions: "Draft Section L proposal instructions. Each requested volume must map to an " +
				"evaluation factor in Section M.\n\n" + commonRules,
		},
		{
			Type:  model.DocSourceSelectionPlan,
			Title: "Source Selection Plan",
			Prerequisites: []model.DocumentType{
				model.DocAcquisitionPlan, model.DocEvaluationCriteria,
			},
			Sections: []string{
				"Purpose", "Source Selection Organization", "Evaluation Process",
				"Evaluation Factors", "Communications", "Documentation", "Schedule",
			},
			Instructions: "Draft a source selection plan per FAR 15.303 naming the source selection " +
				"organization roles and the evaluation process.\n\n" + commonRules,
		},
	}
}

// Default returns a Catalog holding the builtin entries.
func Default() *Catalog {
	c, err := New(Builtin())
	if err != nil {
		panic(err)
	}
	return c
}

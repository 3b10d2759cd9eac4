package ctl

import (
	"fmt"

	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/output"
	"github.com/oncokb/backend/internal/services"
	"github.com/spf13/cobra"
)

var (
	flagCompanyName        string
	flagCompanyDescription string
	flagCompanyLicense     string
	flagCompanyStatus      string
	flagCompanyModel       string
	flagCompanyDomains     []string
)

var companyCmd = &cobra.Command{
	Use:   "company",
	Short: "Manage companies",
}

var companyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a company",
	Long: `Create a company with one or more email domains. Users registering
with one of these domains are matched to the company on activation.

  oncokbctl company create --name Acme --license COMMERCIAL --domain acme.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		company, err := env.Companies.Create(cmd.Context(), services.CompanyInput{
			Name:          flagCompanyName,
			Description:   flagCompanyDescription,
			LicenseType:   flagCompanyLicense,
			LicenseStatus: flagCompanyStatus,
			LicenseModel:  flagCompanyModel,
			Domains:       flagCompanyDomains,
		})
		if err != nil {
			return fmt.Errorf("creating company: %w", err)
		}

		if flagJSON {
			output.JSON(cmd.OutOrStdout(), company)
			return nil
		}
		output.CompanyTable(cmd.OutOrStdout(), []models.Company{*company})
		return nil
	},
}

var companyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		companies, err := env.Companies.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing companies: %w", err)
		}

		if flagJSON {
			output.JSON(cmd.OutOrStdout(), companies)
			return nil
		}
		output.CompanyTable(cmd.OutOrStdout(), companies)
		return nil
	},
}

func init() {
	companyCreateCmd.Flags().StringVar(&flagCompanyName, "name", "", "Company name")
	companyCreateCmd.Flags().StringVar(&flagCompanyDescription, "description", "", "Free-form description")
	companyCreateCmd.Flags().StringVar(&flagCompanyLicense, "license", string(models.LicenseTypeCommercial), "License type: ACADEMIC, COMMERCIAL, RESEARCH_IN_COMMERCIAL, HOSPITAL")
	companyCreateCmd.Flags().StringVar(&flagCompanyStatus, "status", string(models.LicenseStatusRegular), "License status: TRIAL, REGULAR, EXPIRED")
	companyCreateCmd.Flags().StringVar(&flagCompanyModel, "model", string(models.LicenseModelFull), "License model: FULL, LIMITED")
	companyCreateCmd.Flags().StringSliceVar(&flagCompanyDomains, "domain", nil, "Email domain, repeatable")
	_ = companyCreateCmd.MarkFlagRequired("name")
	_ = companyCreateCmd.MarkFlagRequired("domain")

	companyCmd.AddCommand(companyCreateCmd, companyListCmd)
	rootCmd.AddCommand(companyCmd)
}

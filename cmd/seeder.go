package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	userDatamodel "github.com/credmart/credmart/internal/core/datamodel/user"
	"github.com/credmart/credmart/internal/product"
	"github.com/credmart/credmart/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with the product catalog and an admin user",
	Long:  `Seed the database with the default subscription catalog and a development admin account.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		_, db, err := initStores(cfg.Database, logger.L())
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		if clearData {
			fmt.Println("Clearing existing catalog and users")
			if err := db.Exec("DELETE FROM products").Error; err != nil {
				log.Fatalf("failed to clear products: %v", err)
			}
			if err := db.Exec("DELETE FROM users").Error; err != nil {
				log.Fatalf("failed to clear users: %v", err)
			}
		}

		for _, p := range product.SeedProducts() {
			var exists int64
			db.Table("products").Where("ref = ?", p.Ref).Count(&exists)
			if exists > 0 {
				continue
			}
			if err := db.Create(p).Error; err != nil {
				log.Fatalf("failed to seed product %s: %v", p.Ref, err)
			}
			fmt.Println("Seeded product:", p.Ref)
		}

		adminEmail := "admin@credmart.example"
		var exists int64
		db.Table("users").Where("email = ?", adminEmail).Count(&exists)
		if exists > 0 {
			fmt.Println("Admin user already exists:", adminEmail)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte("changeme-on-first-login"), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("failed to hash admin password: %v", err)
		}

		admin := &userDatamodel.User{
			Email:        adminEmail,
			Name:         "Credmart Admin",
			PasswordHash: string(hash),
			IsAdmin:      true,
			IsActive:     true,
		}
		if err := db.Create(admin).Error; err != nil {
			log.Fatalf("failed to seed admin user: %v", err)
		}
		fmt.Println("Seeded admin user:", adminEmail)
	},
}

package model

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	for _, m := range []interface{}{
		&ModelVersion{},
		&Entity{},
		&Property{},
		&Relationship{},
		&Geometry{},
		&ValidationReport{},
		&VersionDiff{},
	} {
		if err := db.AutoMigrate(m); err != nil {
			return err
		}
	}

	return nil
}

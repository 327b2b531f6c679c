package mocks

//go:generate mockery --name RankedReader --srcpkg github.com/peanutgallery/catalog/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name Publisher --srcpkg github.com/peanutgallery/catalog/internal/bus --output ./bus --outpkg busmocks --with-expecter
//go:generate mockery --name Fetcher --srcpkg github.com/peanutgallery/catalog/internal/provider --output ./provider --outpkg providermocks --with-expecter
